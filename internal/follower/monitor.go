package follower

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"hedge-sync-go/internal/models"
	"hedge-sync-go/internal/wire"
)

// Status is the connection state of a followed master.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
	StatusReconnecting Status = "reconnecting"
)

// ConnectionSnapshot is a point-in-time copy of one master as seen by the monitor.
type ConnectionSnapshot struct {
	AccountID      string            `json:"accountId"`
	Platform       string            `json:"platform"`
	Status         Status            `json:"status"`
	Balance        float64           `json:"balance"`
	Equity         float64           `json:"equity"`
	Margin         float64           `json:"margin"`
	FreeMargin     float64           `json:"freeMargin"`
	FloatingPL     float64           `json:"floatingPL"`
	Positions      []models.Position `json:"positions"`
	LastUpdated    time.Time         `json:"lastUpdated"`
	LastEventIndex uint64            `json:"lastEventIndex"`
	LicenseValid   bool              `json:"licenseValid"`
	Paused         bool              `json:"paused"`
	LastError      string            `json:"lastError,omitempty"`
}

// Stale reports whether nothing has been heard from the master for longer than maxAge.
func (c ConnectionSnapshot) Stale(now time.Time, maxAge time.Duration) bool {
	if c.LastUpdated.IsZero() {
		return true
	}
	return now.Sub(c.LastUpdated) > maxAge
}

type entry struct {
	view   *View
	status Status
	err    string
}

// Monitor keeps a View per account fed from raw broadcast payloads.
// It is safe for concurrent use.
type Monitor struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
	logger  *zap.Logger
}

// NewMonitor creates an empty monitor.
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  logger,
	}
}

// SetClock replaces the time source.
func (m *Monitor) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Monitor) entryLocked(accountID string) *entry {
	e, ok := m.entries[accountID]
	if !ok {
		e = &entry{view: NewView(accountID), status: StatusDisconnected}
		m.entries[accountID] = e
	}
	return e
}

// Handle decodes one payload and applies it to its account's view.
func (m *Monitor) Handle(payload []byte) error {
	env, err := wire.Decode(payload)
	if err != nil {
		return err
	}
	return m.Apply(env)
}

// Apply folds an already decoded envelope into its account's view.
func (m *Monitor) Apply(env wire.RawEnvelope) error {
	if env.AccountID == "" {
		return fmt.Errorf("%s message without account id", env.Type)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entryLocked(env.AccountID)
	if err := e.view.Apply(env, m.now()); err != nil {
		e.status = StatusError
		e.err = err.Error()
		m.logger.Warn("Failed to apply message",
			zap.String("account", env.AccountID),
			zap.String("type", string(env.Type)),
			zap.Uint64("index", env.EventIndex),
			zap.Error(err))
		return err
	}
	if e.view.Disconnected {
		e.status = StatusDisconnected
	} else {
		e.status = StatusConnected
	}
	e.err = ""
	return nil
}

// SetStatus records a connection state change for an account.
func (m *Monitor) SetStatus(accountID string, status Status, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entryLocked(accountID)
	e.status = status
	if err != nil {
		e.err = err.Error()
	}
}

// Snapshot returns a copy of one account's state.
func (m *Monitor) Snapshot(accountID string) (ConnectionSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[accountID]
	if !ok {
		return ConnectionSnapshot{}, false
	}
	return e.snapshot(), true
}

// Snapshots returns a copy of every account's state, ordered by account id.
func (m *Monitor) Snapshots() []ConnectionSnapshot {
	m.mu.RLock()
	out := make([]ConnectionSnapshot, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.snapshot())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

func (e *entry) snapshot() ConnectionSnapshot {
	v := e.view
	return ConnectionSnapshot{
		AccountID:      v.AccountID,
		Platform:       v.Platform,
		Status:         e.status,
		Balance:        v.Account.Balance,
		Equity:         v.Account.Equity,
		Margin:         v.Account.Margin,
		FreeMargin:     v.Account.FreeMargin,
		FloatingPL:     v.Account.Profit,
		Positions:      v.SortedPositions(),
		LastUpdated:    v.LastUpdated,
		LastEventIndex: v.LastIndex,
		LicenseValid:   v.LicenseValid,
		Paused:         v.Paused,
		LastError:      e.err,
	}
}
