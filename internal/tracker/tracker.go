package tracker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"hedge-sync-go/internal/models"
)

// Source reads the authoritative open-position list.
type Source interface {
	Positions(ctx context.Context) ([]models.Position, error)
}

// Tracker owns the last observed position set and turns fresh observations
// into deltas. It is not safe for concurrent use; the engine loop owns it.
type Tracker struct {
	source  Source
	logger  *zap.Logger
	current Set
	seeded  bool
}

// New creates a tracker reading from source.
func New(source Source, logger *zap.Logger) *Tracker {
	return &Tracker{
		source:  source,
		logger:  logger.Named("tracker"),
		current: make(Set),
	}
}

// Refresh reads the platform and returns the validated set. Malformed records
// are logged and reported by ticket.
func (t *Tracker) Refresh(ctx context.Context) (Set, []int64, error) {
	positions, err := t.source.Positions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("refresh positions: %w", err)
	}
	set, malformed, errs := NewSet(positions)
	for _, e := range errs {
		t.logger.Warn("Skipping malformed position", zap.Error(e))
	}
	return set, malformed, nil
}

// Seed replaces the tracked set without producing deltas.
func (t *Tracker) Seed(set Set) {
	t.current = set.Clone()
	t.seeded = true
}

// Seeded reports whether a baseline has been recorded.
func (t *Tracker) Seeded() bool {
	return t.seeded
}

// Update refreshes and returns the deltas against the tracked set, which is
// then replaced. A ticket reported malformed keeps its previous record so a
// bad read is never mistaken for a close.
func (t *Tracker) Update(ctx context.Context) ([]Delta, error) {
	set, malformed, err := t.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	for _, ticket := range malformed {
		if prev, ok := t.current[ticket]; ok {
			set[ticket] = prev
		}
	}
	if !t.seeded {
		t.Seed(set)
		return nil, nil
	}
	deltas := Diff(t.current, set)
	t.current = set
	return deltas, nil
}

// Positions returns a copy of the tracked positions ordered by ticket.
func (t *Tracker) Positions() []models.Position {
	return t.current.Sorted()
}

// Snapshot returns a copy of the tracked set.
func (t *Tracker) Snapshot() Set {
	return t.current.Clone()
}

// Count is the number of tracked positions.
func (t *Tracker) Count() int {
	return len(t.current)
}

// Get returns the tracked record for ticket.
func (t *Tracker) Get(ticket int64) (models.Position, bool) {
	p, ok := t.current[ticket]
	return p, ok
}
