package engine

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"hedge-sync-go/internal/journal"
	"hedge-sync-go/internal/transport"
	"hedge-sync-go/internal/wire"
)

// maxUnsent bounds the events kept for re-publishing while the transport is
// degraded. Older ones are left to the journal and the next snapshot.
const maxUnsent = 1024

// ErrDegraded is returned while the transport awaits a reopen.
var ErrDegraded = errors.New("transport degraded")

// Publisher sequences, encodes and sends envelopes. Only EVENT messages
// advance the index; snapshots and heartbeats carry the last one.
type Publisher struct {
	transport transport.Transport
	journal   *journal.Journal
	platform  string
	accountID string
	sessionID string
	index     uint64
	degraded  bool
	lastErr   error
	unsent    []unsentEvent
	now       func() time.Time
	logger    *zap.Logger
}

type unsentEvent struct {
	index uint64
	data  []byte
}

// NewPublisher creates a publisher. journal may be nil.
func NewPublisher(t transport.Transport, j *journal.Journal, platform, accountID string, logger *zap.Logger) *Publisher {
	return &Publisher{
		transport: t,
		journal:   j,
		platform:  platform,
		accountID: accountID,
		now:       time.Now,
		logger:    logger.Named("publisher"),
	}
}

// Index returns the index of the last sequenced event.
func (p *Publisher) Index() uint64 { return p.index }

// Degraded reports whether the last send failed.
func (p *Publisher) Degraded() bool { return p.degraded }

// LastError returns the last send failure, if any.
func (p *Publisher) LastError() error { return p.lastErr }

// SetAccountID changes the account id stamped on later envelopes.
func (p *Publisher) SetAccountID(id string) { p.accountID = id }

// SetSessionID stamps later envelopes with the engine run they belong to.
func (p *Publisher) SetSessionID(id string) { p.sessionID = id }

// Transport returns the current transport.
func (p *Publisher) Transport() transport.Transport { return p.transport }

// SetTransport installs a reopened transport and re-sends events that failed
// earlier, under their original indices.
func (p *Publisher) SetTransport(t transport.Transport) {
	p.transport = t
	p.degraded = false
	p.lastErr = nil
	p.flush()
}

// Event sequences and publishes an event, returning its index. An event that
// cannot be sent is kept and re-sent with the same index after a reopen.
func (p *Publisher) Event(t wire.MessageType, data any) (uint64, error) {
	if !t.IsEvent() {
		return 0, fmt.Errorf("%s is not an event", t)
	}
	index := p.index + 1
	b, err := p.encode(t, index, data)
	if err != nil {
		return 0, err
	}
	p.index = index

	if p.journal != nil {
		if err := p.journal.Append(index, b); err != nil {
			p.logger.Warn("Journal append failed", zap.Uint64("index", index), zap.Error(err))
		}
	}

	if p.degraded {
		p.queue(index, b)
		return index, ErrDegraded
	}
	if err := p.send(wire.TopicEvent, b); err != nil {
		p.queue(index, b)
		return index, err
	}
	return index, nil
}

// Snapshot publishes full state on the SNAPSHOT topic.
func (p *Publisher) Snapshot(data wire.SnapshotData) error {
	return p.periodic(wire.TypeSnapshot, data)
}

// Heartbeat publishes liveness metrics on the HEARTBEAT topic.
func (p *Publisher) Heartbeat(data wire.HeartbeatData) error {
	return p.periodic(wire.TypeHeartbeat, data)
}

func (p *Publisher) periodic(t wire.MessageType, data any) error {
	if p.degraded {
		return ErrDegraded
	}
	b, err := p.encode(t, p.index, data)
	if err != nil {
		return err
	}
	return p.send(wire.TopicFor(t), b)
}

func (p *Publisher) encode(t wire.MessageType, index uint64, data any) ([]byte, error) {
	return wire.Encode(wire.Envelope{
		Type:       t,
		EventIndex: index,
		Timestamp:  wire.FormatTime(p.now()),
		Platform:   p.platform,
		AccountID:  p.accountID,
		SessionID:  p.sessionID,
		Role:       wire.RoleMaster,
		Data:       data,
	})
}

func (p *Publisher) send(topic wire.Topic, b []byte) error {
	if p.transport == nil {
		p.markDegraded(transport.ErrClosed)
		return ErrDegraded
	}
	if err := p.transport.Publish(topic, b); err != nil {
		p.markDegraded(err)
		return err
	}
	return nil
}

func (p *Publisher) markDegraded(err error) {
	if !p.degraded {
		p.logger.Error("Transport degraded", zap.Error(err))
	}
	p.degraded = true
	p.lastErr = err
}

func (p *Publisher) queue(index uint64, b []byte) {
	if len(p.unsent) >= maxUnsent {
		p.unsent = p.unsent[1:]
	}
	p.unsent = append(p.unsent, unsentEvent{index: index, data: b})
}

func (p *Publisher) flush() {
	for len(p.unsent) > 0 {
		ev := p.unsent[0]
		if err := p.send(wire.TopicEvent, ev.data); err != nil {
			return
		}
		p.logger.Debug("Re-published event", zap.Uint64("index", ev.index))
		p.unsent = p.unsent[1:]
	}
}
