// internal/discovery/tcp/scanner_test.go
package tcp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScanReportsListeningEndpoints(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := closed.Addr().String()
	closed.Close()

	s := NewScanner(zap.NewNop(), &Config{
		Endpoints:   []string{ln.Addr().String(), dead},
		ConnTimeout: 200 * time.Millisecond,
	})
	require.True(t, s.IsAvailable())

	found, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, ln.Addr().String(), found[0].Port)
	assert.Equal(t, "tcp", found[0].Source)
}

func TestUnavailableWithoutEndpoints(t *testing.T) {
	assert.False(t, NewScanner(zap.NewNop(), nil).IsAvailable())
}
