// internal/driver/nv10/escrow_test.go
package nv10

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscrow(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	newEscrow := func() *Escrow {
		e := NewEscrow(5 * time.Second)
		e.now = func() time.Time { return now }
		return e
	}

	t.Run("deadline armed once", func(t *testing.T) {
		e := newEscrow()
		e.Observe(bill(CodeReading, 0))
		assert.Equal(t, EscrowNoteDetected, e.Snapshot().State)

		e.Observe(bill(CodeNoteDetected, 1000))
		first := e.Snapshot()
		require.NotNil(t, first.Deadline)
		assert.Equal(t, now.Add(5*time.Second), *first.Deadline)

		now = now.Add(2 * time.Second)
		e.Observe(bill(CodeStacking, 1000))
		assert.Equal(t, *first.Deadline, *e.Snapshot().Deadline)
		e.Observe(bill(CodeReading, 0))
		assert.True(t, e.Pending())
	})

	t.Run("expiry", func(t *testing.T) {
		e := newEscrow()
		e.Observe(bill(CodeCredited, 2000))
		assert.False(t, e.Expired())

		now = now.Add(5 * time.Second)
		assert.True(t, e.Expired())
		assert.True(t, e.Snapshot().Expired)
	})

	t.Run("outcomes", func(t *testing.T) {
		tests := []struct {
			code int
			want EscrowState
		}{
			{CodeStacked, EscrowStacked},
			{CodeCreditedStacked, EscrowStacked},
			{CodeCreditedError, EscrowStacked},
			{CodeRejected, EscrowRejected},
			{CodeInhibited, EscrowRejected},
			{CodeNoAnswer, EscrowIdle},
			{CodeNoEvent, EscrowPending},
		}
		for _, tt := range tests {
			e := newEscrow()
			e.Observe(bill(CodeNoteDetected, 5000))
			e.Observe(bill(tt.code, 0))
			assert.Equal(t, tt.want, e.Snapshot().State, "code %d", tt.code)
			assert.Equal(t, tt.want == EscrowPending, e.Pending())
		}
	})
}
