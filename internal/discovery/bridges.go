// internal/discovery/bridges.go
package discovery

import (
	"fmt"
	"strconv"
	"strings"

	"cash-device-service/internal/model"
)

// Bridge describes a USB device known to carry a cash peripheral link
type Bridge struct {
	Name       string
	Family     model.DeviceFamily
	Confidence float64
}

type usbID struct {
	vendor, product uint16
}

// anyProduct matches every product of a vendor
const anyProduct = 0xFFFF

// bridges lists USB serial bridges found in cash peripherals. Only ITL
// identifies the family; the generic UART bridges carry any of them.
var bridges = map[usbID]Bridge{
	{0x191C, anyProduct}: {Name: "Innovative Technology SSP", Family: model.FamilyNV10, Confidence: 0.9},
	{0x0403, 0x6001}:     {Name: "FTDI FT232R", Confidence: 0.5},
	{0x0403, 0x6015}:     {Name: "FTDI FT231X", Confidence: 0.5},
	{0x067B, 0x2303}:     {Name: "Prolific PL2303", Confidence: 0.5},
	{0x1A86, 0x7523}:     {Name: "WCH CH340", Confidence: 0.5},
	{0x10C4, 0xEA60}:     {Name: "Silicon Labs CP210x", Confidence: 0.5},
}

// LookupBridge identifies a USB device by vendor and product id
func LookupBridge(vendor, product uint16) (Bridge, bool) {
	if b, ok := bridges[usbID{vendor, product}]; ok {
		return b, true
	}
	b, ok := bridges[usbID{vendor, anyProduct}]
	return b, ok
}

// KnownVendor reports whether any bridge of vendor is listed
func KnownVendor(vendor uint16) bool {
	for id := range bridges {
		if id.vendor == vendor {
			return true
		}
	}
	return false
}

// ParseID parses a USB id written as "0403", "0x0403" or "0X0403"
func ParseID(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid usb id %q: %w", s, err)
	}
	return uint16(v), nil
}

// FormatID renders a USB id as 0xXXXX
func FormatID(id uint16) string {
	return fmt.Sprintf("0x%04X", id)
}
