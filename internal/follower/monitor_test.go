package follower

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hedge-sync-go/internal/models"
	"hedge-sync-go/internal/wire"
)

func encoded(t *testing.T, env wire.RawEnvelope) []byte {
	t.Helper()
	b, err := wire.Marshal(env)
	require.NoError(t, err)
	return b
}

func TestMonitor_HandleTracksAccounts(t *testing.T) {
	m := NewMonitor(zap.NewNop())
	now := t0
	m.SetClock(func() time.Time { return now })

	require.NoError(t, m.Handle(encoded(t, connected(t, 1, pos(10, models.SideBuy, 1)))))
	other := connected(t, 1)
	other.AccountID = "777"
	require.NoError(t, m.Handle(encoded(t, other)))

	snaps := m.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "12345", snaps[0].AccountID)
	assert.Equal(t, "777", snaps[1].AccountID)

	snap, ok := m.Snapshot("12345")
	require.True(t, ok)
	assert.Equal(t, StatusConnected, snap.Status)
	assert.Equal(t, 1000.0, snap.Balance)
	assert.Len(t, snap.Positions, 1)
	assert.Equal(t, uint64(1), snap.LastEventIndex)
	assert.Equal(t, "MT5", snap.Platform)
	assert.False(t, snap.Stale(now.Add(time.Second), 10*time.Second))
	assert.True(t, snap.Stale(now.Add(11*time.Second), 10*time.Second))

	_, ok = m.Snapshot("unknown")
	assert.False(t, ok)
}

func TestMonitor_DisconnectedStatus(t *testing.T) {
	m := NewMonitor(zap.NewNop())
	require.NoError(t, m.Handle(encoded(t, connected(t, 1))))
	require.NoError(t, m.Handle(encoded(t, envelope(t, wire.TypeDisconnected, 2, wire.DisconnectedData{Reason: "shutdown"}))))

	snap, _ := m.Snapshot("12345")
	assert.Equal(t, StatusDisconnected, snap.Status)
}

func TestMonitor_Errors(t *testing.T) {
	m := NewMonitor(zap.NewNop())
	assert.Error(t, m.Handle([]byte(`not json`)))

	anon := connected(t, 1)
	anon.AccountID = ""
	assert.Error(t, m.Handle(encoded(t, anon)))

	bad := connected(t, 1)
	bad.Data = wire.RawMessage(`{"positions":"nope"}`)
	assert.Error(t, m.Handle(encoded(t, bad)))
	snap, ok := m.Snapshot("12345")
	require.True(t, ok)
	assert.Equal(t, StatusError, snap.Status)
	assert.NotEmpty(t, snap.LastError)

	require.NoError(t, m.Handle(encoded(t, connected(t, 1))))
	snap, _ = m.Snapshot("12345")
	assert.Equal(t, StatusConnected, snap.Status)
	assert.Empty(t, snap.LastError)
}

func TestMonitor_SetStatus(t *testing.T) {
	m := NewMonitor(zap.NewNop())
	m.SetStatus("12345", StatusReconnecting, assert.AnError)

	snap, ok := m.Snapshot("12345")
	require.True(t, ok)
	assert.Equal(t, StatusReconnecting, snap.Status)
	assert.Equal(t, assert.AnError.Error(), snap.LastError)
	assert.True(t, snap.Stale(t0, time.Hour), "never heard from")
}
