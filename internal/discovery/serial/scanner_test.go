// internal/discovery/serial/scanner_test.go
package serial

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"cash-device-service/internal/model"
)

func fixed(ports ...*enumerator.PortDetails) func() ([]*enumerator.PortDetails, error) {
	return func() ([]*enumerator.PortDetails, error) { return ports, nil }
}

func TestScanIdentifiesBridges(t *testing.T) {
	s := NewScanner(zap.NewNop(), &Config{PortPatterns: []string{"/dev/ttyUSB*", "/dev/ttyACM*"}})
	s.list = fixed(
		&enumerator.PortDetails{Name: "/dev/ttyS0"},
		&enumerator.PortDetails{Name: "/dev/ttyACM0", IsUSB: true, VID: "191c", PID: "4104", SerialNumber: "NV1"},
		&enumerator.PortDetails{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001"},
		&enumerator.PortDetails{Name: "/dev/ttyUSB1", IsUSB: true, VID: "zz", PID: "6001"},
	)

	found, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 3)

	byPort := map[string]int{}
	for i, d := range found {
		byPort[d.Port] = i
	}

	nv := found[byPort["/dev/ttyACM0"]]
	assert.Equal(t, model.FamilyNV10, nv.Family)
	assert.Equal(t, "0x191C", nv.VendorID)
	assert.Equal(t, "NV1", nv.SerialNumber)

	ftdi := found[byPort["/dev/ttyUSB0"]]
	assert.Equal(t, "FTDI FT232R", ftdi.Bridge)
	assert.Empty(t, ftdi.Family)

	bad := found[byPort["/dev/ttyUSB1"]]
	assert.Empty(t, bad.VendorID)
	assert.Equal(t, 0.2, bad.Confidence)
}

func TestScanFilters(t *testing.T) {
	ports := fixed(
		&enumerator.PortDetails{Name: "/dev/ttyS0"},
		&enumerator.PortDetails{Name: "/dev/ttyUSB3", IsUSB: true, VID: "067b", PID: "2303"},
	)
	tests := []struct {
		name   string
		config *Config
		want   []string
	}{
		{"everything", nil, []string{"/dev/ttyS0", "/dev/ttyUSB3"}},
		{"usb only", &Config{USBOnly: true}, []string{"/dev/ttyUSB3"}},
		{"pattern", &Config{PortPatterns: []string{"/dev/ttyS*"}}, []string{"/dev/ttyS0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScanner(zap.NewNop(), tt.config)
			s.list = ports
			found, err := s.Scan(context.Background())
			require.NoError(t, err)

			var names []string
			for _, d := range found {
				names = append(names, d.Port)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestScanEnumeratorError(t *testing.T) {
	s := NewScanner(zap.NewNop(), nil)
	s.list = func() ([]*enumerator.PortDetails, error) { return nil, errors.New("denied") }
	_, err := s.Scan(context.Background())
	assert.Error(t, err)
}
