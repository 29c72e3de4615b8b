// pkg/devicetypes/types.go
package devicetypes

import "time"

// FamilyProfile holds the wire defaults of a device family
type FamilyProfile struct {
	PortPattern  string        `json:"port_pattern"`
	BaudRate     int           `json:"baud_rate"`
	SettleDelay  time.Duration `json:"settle_delay"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	MaximumPorts int           `json:"maximum_ports"`
}

// FamilyProfiles defines the defaults for each family, keyed by family name
var FamilyProfiles = map[string]FamilyProfile{
	"AZKOYEN": {
		PortPattern:  "/dev/ttyUSB%d",
		BaudRate:     9600,
		SettleDelay:  200 * time.Millisecond,
		ReadTimeout:  1 * time.Second,
		MaximumPorts: 10,
	},
	"NV10": {
		PortPattern:  "/dev/ttyACM%d",
		BaudRate:     9600,
		SettleDelay:  200 * time.Millisecond,
		ReadTimeout:  1 * time.Second,
		MaximumPorts: 10,
	},
	"DISPENSER": {
		PortPattern:  "/dev/ttyUSB%d",
		BaudRate:     9600,
		SettleDelay:  300 * time.Millisecond,
		ReadTimeout:  1 * time.Second,
		MaximumPorts: 10,
	},
}

// CoinChannels maps ccTalk credit channels to coin values
var CoinChannels = map[int]int{
	4: 50, 5: 100, 6: 200, 7: 500,
	10: 50, 11: 100, 12: 200, 13: 500, 14: 1000, 15: 500, 16: 1000,
}

// BillChannels maps SSP channels to note values
var BillChannels = map[int]int{
	1: 1000, 2: 2000, 3: 5000, 4: 10000, 5: 20000, 6: 50000, 7: 100000,
}

// SupportedBaudRates lists the rates accepted in configuration
var SupportedBaudRates = []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200}

// DefaultTimeouts used when the configuration leaves one out
var DefaultTimeouts = map[string]time.Duration{
	"COMMAND": 10 * time.Second,
	"ESCROW":  10 * time.Second,
}
