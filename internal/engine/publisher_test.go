package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hedge-sync-go/internal/journal"
	"hedge-sync-go/internal/models"
	"hedge-sync-go/internal/wire"
)

func TestPublisher_Sequencing(t *testing.T) {
	mem := newMemTransport()
	p := NewPublisher(mem, nil, "MT5", "42", zap.NewNop())
	p.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 123000000, time.UTC) }

	i1, err := p.Event(wire.TypePositionOpened, wire.OpenedData{Position: models.Position{Ticket: 1}})
	require.NoError(t, err)
	require.NoError(t, p.Snapshot(wire.SnapshotData{}))
	require.NoError(t, p.Heartbeat(wire.HeartbeatData{}))
	i2, err := p.Event(wire.TypePositionClosed, wire.ClosedData{Position: models.Position{Ticket: 1}})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), i1)
	assert.Equal(t, uint64(2), i2)

	snap := mem.byTopic(wire.TopicSnapshot)
	require.Len(t, snap, 1)
	assert.Equal(t, uint64(1), snap[0].EventIndex, "snapshots carry the last event index")
	hb := mem.byTopic(wire.TopicHeartbeat)
	require.Len(t, hb, 1)
	assert.Equal(t, wire.TypeHeartbeat, hb[0].Type)

	ev := mem.events()
	require.Len(t, ev, 2)
	assert.Equal(t, "2026-03-01T12:00:00.123Z", ev[0].Timestamp)
	assert.Equal(t, "42", ev[0].AccountID)
	assert.Equal(t, "master", ev[0].Role)

	_, err = p.Event(wire.TypeHeartbeat, nil)
	assert.Error(t, err, "heartbeats are not sequenced events")
	assert.Equal(t, uint64(2), p.Index())
}

func TestPublisher_DegradedKeepsIndex(t *testing.T) {
	first := newMemTransport()
	j, err := journal.Open(filepath.Join(t.TempDir(), "j.db"), 0)
	require.NoError(t, err)
	defer j.Close()
	p := NewPublisher(first, j, "MT5", "42", zap.NewNop())

	_, err = p.Event(wire.TypePositionOpened, wire.OpenedData{})
	require.NoError(t, err)

	first.setFail(true)
	idx, err := p.Event(wire.TypePositionOpened, wire.OpenedData{})
	assert.Error(t, err)
	assert.Equal(t, uint64(2), idx)
	assert.True(t, p.Degraded())

	idx, err = p.Event(wire.TypePositionClosed, wire.ClosedData{})
	assert.ErrorIs(t, err, ErrDegraded)
	assert.Equal(t, uint64(3), idx)
	assert.ErrorIs(t, p.Heartbeat(wire.HeartbeatData{}), ErrDegraded)

	second := newMemTransport()
	p.SetTransport(second)
	assert.False(t, p.Degraded())

	resent := second.events()
	require.Len(t, resent, 2)
	assert.Equal(t, uint64(2), resent[0].EventIndex)
	assert.Equal(t, uint64(3), resent[1].EventIndex)

	page, err := j.Since(0, 0)
	require.NoError(t, err)
	assert.Len(t, page.Entries, 3, "every sequenced event is journaled")
}
