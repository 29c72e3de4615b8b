// pkg/driver/interfaces.go
package driver

import (
	"context"

	"cash-device-service/internal/model"
)

// CashDriver is the interface every cash peripheral driver implements.
// All methods serialize on the session: at most one exchange is in flight.
type CashDriver interface {
	ID() string
	Family() model.DeviceFamily

	// Session lifecycle
	Connect(ctx context.Context) CommandResponse
	CheckDevice(ctx context.Context) CommandResponse
	StartReader(ctx context.Context) CommandResponse
	StopReader(ctx context.Context) CommandResponse

	// Diagnostics
	TestStatus(ctx context.Context) DeviceStatus
	Lifecycle() model.Lifecycle
	State() string
	Port() string
	HealthMetrics() HealthMetrics

	// Fault forces the session to Faulted and releases the transport.
	// The polling engine calls it once its failure budget is spent.
	Fault(reason string)

	// Cleanup
	Close() error
}

// CoinValidator extends CashDriver for ccTalk coin acceptors
type CoinValidator interface {
	CashDriver

	GetCoin(ctx context.Context) CoinResult
	GetLostCoins() LostCoins
	LostCoinTotals() LostCoins
	ModifyChannels(ctx context.Context, mask1, mask2 int) (CommandResponse, error)
	ResetDevice(ctx context.Context) CommandResponse
	CleanDevice(ctx context.Context) CommandResponse
}

// BillValidator extends CashDriver for SSP note acceptors
type BillValidator interface {
	CashDriver

	GetBill(ctx context.Context) Bill
	ModifyChannels(ctx context.Context, mask int) (CommandResponse, error)
	Reject(ctx context.Context) (CommandResponse, error)
}

// CardDispenser extends CashDriver for card dispensers
type CardDispenser interface {
	CashDriver

	DispenseCard(ctx context.Context) CommandResponse
	RecycleCard(ctx context.Context) CommandResponse
	EndProcess(ctx context.Context) CommandResponse
	GetDispenserFlags() DispenserFlags
}
