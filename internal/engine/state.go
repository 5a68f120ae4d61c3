package engine

import (
	"time"

	"hedge-sync-go/internal/models"
	"hedge-sync-go/internal/platform"
)

// EngineState is everything the loop mutates. It is owned by the loop
// goroutine; other goroutines only see values copied out of it.
type EngineState struct {
	SessionID   string
	StartedAt   time.Time
	Account     models.Account
	HasAccount  bool
	Paused      bool
	Connected   bool // CONNECTED has been published
	Registered  bool
	WasLicensed bool
	LastError   string
	// exactCloses holds terminal-reported closing deals until the tracker
	// notices the ticket is gone, or for closeWaitPolls polls at most.
	exactCloses map[int64]pendingClose
}

// closeWaitPolls bounds how long a closing deal waits for its ticket to
// leave the listing. A partial close never does.
const closeWaitPolls = 5

type pendingClose struct {
	tx    platform.Transaction
	polls int
}

func newEngineState(sessionID string, now time.Time) EngineState {
	return EngineState{
		SessionID:   sessionID,
		StartedAt:   now,
		exactCloses: make(map[int64]pendingClose),
	}
}

// Uptime is the time since the engine started, in whole seconds.
func (s *EngineState) Uptime(now time.Time) int64 {
	return int64(now.Sub(s.StartedAt) / time.Second)
}
