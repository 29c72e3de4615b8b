// internal/discovery/usb/scanner_test.go
package usb

import (
	"testing"

	"github.com/google/gousb"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"cash-device-service/internal/model"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name      string
		knownOnly bool
		vendor    gousb.ID
		product   gousb.ID
		wantNil   bool
		bridge    string
		family    model.DeviceFamily
	}{
		{"itl validator", true, 0x191C, 0x4104, false, "Innovative Technology SSP", model.FamilyNV10},
		{"ch340", true, 0x1A86, 0x7523, false, "WCH CH340", ""},
		{"known vendor other product", true, 0x0403, 0x1234, false, "", ""},
		{"unknown vendor skipped", true, 0x046D, 0xC52B, true, "", ""},
		{"unknown vendor kept", false, 0x046D, 0xC52B, false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScanner(zap.NewNop(), &Config{KnownOnly: tt.knownOnly})
			d := s.describe(&gousb.DeviceDesc{Bus: 1, Port: 4, Vendor: tt.vendor, Product: tt.product})
			if tt.wantNil {
				assert.Nil(t, d)
				return
			}
			if assert.NotNil(t, d) {
				assert.Equal(t, tt.bridge, d.Bridge)
				assert.Equal(t, tt.family, d.Family)
				assert.Equal(t, "USB-Bus1-Port4", d.Location)
				assert.Equal(t, "usb", d.Source)
			}
		})
	}
}
