// Package follower rebuilds a master's account view from its broadcasts.
package follower

import (
	"fmt"
	"sort"
	"time"

	"hedge-sync-go/internal/models"
	"hedge-sync-go/internal/tracker"
	"hedge-sync-go/internal/wire"
)

// maxPending bounds the out-of-order events held while waiting for a gap to
// fill. A snapshot always resolves the gap.
const maxPending = 1024

// View is one master's state as seen by a subscriber. Events are applied in
// index order exactly once; a snapshot replaces everything older than it.
type View struct {
	AccountID    string
	Platform     string
	Account      models.Account
	Positions    tracker.Set
	LastIndex    uint64
	SessionID    string
	Paused       bool
	LicenseValid bool
	LicenseError string
	Disconnected bool
	LastUpdated  time.Time

	baseline bool
	pending  map[uint64]wire.RawEnvelope
}

// NewView creates an empty view.
func NewView(accountID string) *View {
	return &View{
		AccountID: accountID,
		Positions: make(tracker.Set),
		pending:   make(map[uint64]wire.RawEnvelope),
	}
}

// HasBaseline reports whether a CONNECTED event or a snapshot has been seen.
func (v *View) HasBaseline() bool { return v.baseline }

// Pending is the number of buffered out-of-order events.
func (v *View) Pending() int { return len(v.pending) }

// Apply folds one envelope into the view. Duplicates are ignored and events
// ahead of a gap are held back until it is filled.
func (v *View) Apply(env wire.RawEnvelope, now time.Time) error {
	if env.SessionID != "" {
		if v.SessionID != "" && env.SessionID != v.SessionID {
			v.restart()
		}
		v.SessionID = env.SessionID
	}
	if env.Platform != "" {
		v.Platform = env.Platform
	}
	switch env.Type {
	case wire.TypeHeartbeat:
		return v.applyHeartbeat(env, now)
	case wire.TypeSnapshot:
		return v.applySnapshot(env, now)
	}
	if !env.Type.IsEvent() {
		return fmt.Errorf("unexpected message type %q", env.Type)
	}

	if env.Type == wire.TypeConnected {
		// a restarted master starts a new index sequence
		if v.baseline && env.EventIndex == v.LastIndex {
			return nil
		}
		if v.baseline {
			v.pending = make(map[uint64]wire.RawEnvelope)
		}
		if err := v.applyEvent(env, now); err != nil {
			return err
		}
		return v.drain(now)
	}
	if env.EventIndex <= v.LastIndex && v.baseline {
		return nil
	}
	if !v.baseline {
		v.hold(env)
		return nil
	}
	if v.baseline && env.EventIndex != v.LastIndex+1 {
		v.hold(env)
		return nil
	}

	if err := v.applyEvent(env, now); err != nil {
		return err
	}
	return v.drain(now)
}

// restart forgets the index sequence of a previous master run. Positions stay
// visible until the new run's baseline replaces them.
func (v *View) restart() {
	v.baseline = false
	v.LastIndex = 0
	v.pending = make(map[uint64]wire.RawEnvelope)
}

func (v *View) hold(env wire.RawEnvelope) {
	if len(v.pending) >= maxPending {
		oldest := ^uint64(0)
		for idx := range v.pending {
			if idx < oldest {
				oldest = idx
			}
		}
		delete(v.pending, oldest)
	}
	v.pending[env.EventIndex] = env
}

// drain applies buffered events that have become contiguous.
func (v *View) drain(now time.Time) error {
	for idx := range v.pending {
		if idx <= v.LastIndex {
			delete(v.pending, idx)
		}
	}
	for {
		env, ok := v.pending[v.LastIndex+1]
		if !ok {
			return nil
		}
		delete(v.pending, env.EventIndex)
		if err := v.applyEvent(env, now); err != nil {
			return err
		}
	}
}

func (v *View) applyEvent(env wire.RawEnvelope, now time.Time) error {
	switch env.Type {
	case wire.TypeConnected:
		var d wire.ConnectedData
		if err := env.DecodeData(&d); err != nil {
			return err
		}
		v.Account = d.Account
		v.Positions = setOf(d.Positions)
		v.baseline = true
		v.Disconnected = false
	case wire.TypeAccountUpdate:
		var d wire.AccountUpdateData
		if err := env.DecodeData(&d); err != nil {
			return err
		}
		v.Account = d.Account
	case wire.TypePositionOpened:
		var d wire.OpenedData
		if err := env.DecodeData(&d); err != nil {
			return err
		}
		v.Positions[d.Position.Ticket] = d.Position
	case wire.TypePositionClosed:
		var d wire.ClosedData
		if err := env.DecodeData(&d); err != nil {
			return err
		}
		delete(v.Positions, d.Position.Ticket)
	case wire.TypePositionReversed:
		var d wire.ReversedData
		if err := env.DecodeData(&d); err != nil {
			return err
		}
		v.Positions[d.Ticket] = d.Current
	case wire.TypePositionModified:
		var d wire.ModifiedData
		if err := env.DecodeData(&d); err != nil {
			return err
		}
		if p, ok := v.Positions[d.Ticket]; ok {
			p.StopLoss = d.NewSL
			p.TakeProfit = d.NewTP
			p.Volume = d.NewVolume
			v.Positions[d.Ticket] = p
		}
	case wire.TypeDisconnected:
		v.Disconnected = true
	}
	v.LastIndex = env.EventIndex
	v.LastUpdated = now
	return nil
}

func (v *View) applySnapshot(env wire.RawEnvelope, now time.Time) error {
	if v.baseline && env.EventIndex < v.LastIndex {
		// older than what events already told us
		return nil
	}
	var d wire.SnapshotData
	if err := env.DecodeData(&d); err != nil {
		return err
	}
	v.Account = d.Account
	v.Positions = setOf(d.Positions)
	v.Paused = d.IsPaused
	v.LicenseValid = d.IsLicenseValid
	v.LastIndex = env.EventIndex
	v.LastUpdated = now
	v.baseline = true
	v.Disconnected = false
	return v.drain(now)
}

func (v *View) applyHeartbeat(env wire.RawEnvelope, now time.Time) error {
	var d wire.HeartbeatData
	if err := env.DecodeData(&d); err != nil {
		return err
	}
	v.Account.Balance = d.Balance
	v.Account.Equity = d.Equity
	v.Account.Margin = d.Margin
	v.Account.FreeMargin = d.FreeMargin
	v.Account.Profit = d.Profit
	v.Paused = d.IsPaused
	v.LicenseValid = d.IsLicenseValid
	v.LicenseError = d.LicenseError
	v.LastUpdated = now
	return nil
}

// SortedPositions returns the positions ordered by ticket.
func (v *View) SortedPositions() []models.Position {
	return v.Positions.Sorted()
}

func setOf(positions []models.Position) tracker.Set {
	set := make(tracker.Set, len(positions))
	for _, p := range positions {
		set[p.Ticket] = p
	}
	return set
}

// pendingIndices is used by tests and diagnostics.
func (v *View) pendingIndices() []uint64 {
	out := make([]uint64, 0, len(v.pending))
	for idx := range v.pending {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
