package follower

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hedge-sync-go/internal/models"
	"hedge-sync-go/internal/transport"
	"hedge-sync-go/internal/wire"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestFollower_ReceivesFromPublisher(t *testing.T) {
	tr, err := transport.OpenZMQ(transport.Options{
		BindHost: "127.0.0.1",
		DataPort: freePort(t),
	}, zap.NewNop())
	require.NoError(t, err)
	defer tr.Close()

	m := NewMonitor(zap.NewNop())
	f := NewFollower(tr.Info().DataEndpoint, "", "12345", m, zap.NewNop())

	var mu sync.Mutex
	var seen []ConnectionSnapshot
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.Run(ctx, func(s ConnectionSnapshot) {
			mu.Lock()
			seen = append(seen, s)
			mu.Unlock()
		})
	}()

	snap := encoded(t, snapshot(t, 0, pos(10, models.SideBuy, 1)))
	// PUB drops messages until the subscription has propagated.
	require.Eventually(t, func() bool {
		assert.NoError(t, tr.Publish(wire.TopicSnapshot, snap))
		s, ok := m.Snapshot("12345")
		return ok && s.Status == StatusConnected && len(s.Positions) == 1
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, tr.Publish(wire.TopicEvent, encoded(t, opened(t, 1, pos(11, models.SideSell, 2)))))
	require.Eventually(t, func() bool {
		s, _ := m.Snapshot("12345")
		return len(s.Positions) == 2 && s.LastEventIndex == 1
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("follower did not stop")
	}

	s, _ := m.Snapshot("12345")
	assert.Equal(t, StatusDisconnected, s.Status)
	mu.Lock()
	assert.NotEmpty(t, seen)
	mu.Unlock()
}
