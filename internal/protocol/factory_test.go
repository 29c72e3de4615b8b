// internal/protocol/factory_test.go
package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cash-device-service/internal/model"
)

func TestCandidatePorts(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{
			name: "pattern",
			cfg:  Config{Type: model.ConnectionTypeSerial, PortPattern: "/dev/ttyUSB%d", MaximumPorts: 3},
			want: []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB2"},
		},
		{
			name: "fixed address wins",
			cfg:  Config{Type: model.ConnectionTypeSerial, PortPattern: "/dev/ttyUSB%d", MaximumPorts: 3, Address: "/dev/coin"},
			want: []string{"/dev/coin"},
		},
		{
			name: "pattern without verb",
			cfg:  Config{Type: model.ConnectionTypeSerial, PortPattern: "/dev/ttyS0", MaximumPorts: 3},
			want: []string{"/dev/ttyS0"},
		},
		{
			name: "tcp",
			cfg:  Config{Type: model.ConnectionTypeTCP, Address: "10.0.0.5:4001"},
			want: []string{"10.0.0.5:4001"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CandidatePorts(tt.cfg))
		})
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid serial", Config{Type: model.ConnectionTypeSerial, PortPattern: "/dev/ttyUSB%d", MaximumPorts: 10, BaudRate: 9600}, false},
		{"zero ports", Config{Type: model.ConnectionTypeSerial, PortPattern: "/dev/ttyUSB%d", BaudRate: 9600}, true},
		{"bad baud", Config{Type: model.ConnectionTypeSerial, PortPattern: "/dev/ttyUSB%d", MaximumPorts: 1, BaudRate: 1234}, true},
		{"tcp without address", Config{Type: model.ConnectionTypeTCP}, true},
		{"unknown", Config{Type: "BLUETOOTH"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewOpener(t *testing.T) {
	open, err := NewOpener(Config{
		Type:         model.ConnectionTypeSerial,
		PortPattern:  "/dev/ttyUSB%d",
		MaximumPorts: 2,
		BaudRate:     9600,
		ReadTimeout:  time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	tr := open("/dev/ttyUSB1")
	assert.Equal(t, "/dev/ttyUSB1", tr.Address())
	assert.Equal(t, model.ConnectionTypeSerial, tr.GetProtocolType())
	assert.False(t, tr.IsOpen())

	tcp, err := NewOpener(Config{Type: model.ConnectionTypeTCP, Address: "127.0.0.1:4001"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, model.ConnectionTypeTCP, tcp("127.0.0.1:4001").GetProtocolType())
}
