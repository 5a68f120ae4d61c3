package license

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is a copy of the gate's cached validation outcome.
type State struct {
	Valid          bool
	Status         string
	Token          string
	TTL            time.Duration
	ExpiresAt      string // license expiry reported by the server
	TokenExpiresAt time.Time
	ValidatedAt    time.Time
	NextCheckAt    time.Time
	LastError      string
	Plan           string
	Features       []string
	Source         string
}

// Gate caches the last validation and schedules the next one. All fields are
// mutated through Apply; readers receive copies.
type Gate struct {
	mu        sync.RWMutex
	validator Validator
	params    Params
	interval  time.Duration
	margin    time.Duration
	now       func() time.Time
	state     State
	logger    *zap.Logger
}

// NewGate creates a gate. The first check is due immediately.
func NewGate(validator Validator, params Params, interval, margin time.Duration, logger *zap.Logger) *Gate {
	return &Gate{
		validator: validator,
		params:    params,
		interval:  interval,
		margin:    margin,
		now:       time.Now,
		state:     State{Status: StatusUnvalidated},
		logger:    logger.Named("license"),
	}
}

// SetClock replaces the time source.
func (g *Gate) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// SetParams replaces the identity sent on the next check, e.g. once the
// account login is known.
func (g *Gate) SetParams(p Params) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.params = p
}

// Check runs one validation round trip without touching the cache. It may
// block for the validator's timeout and is meant to run off the engine loop.
func (g *Gate) Check(ctx context.Context) (Result, error) {
	g.mu.RLock()
	p := g.params
	g.mu.RUnlock()
	return g.validator.Validate(ctx, p)
}

// Apply records the outcome of Check and returns the new state.
func (g *Gate) Apply(res Result, err error) State {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if err != nil {
		res = Result{Code: ErrorNotInitialized, Error: err.Error()}
	}

	if !res.Valid {
		code := res.Code
		if code == "" {
			code = ErrorInvalid
		}
		g.state = State{
			Status:      code,
			LastError:   res.Error,
			ValidatedAt: now,
			NextCheckAt: now.Add(g.interval),
			Source:      res.Source,
		}
		g.logger.Warn("License validation failed",
			zap.String("code", code),
			zap.String("error", res.Error),
			zap.String("source", res.Source),
			zap.Time("next_check", g.state.NextCheckAt))
		return g.copyLocked()
	}

	g.state = State{
		Valid:          true,
		Status:         StatusOK,
		Token:          res.Token,
		TTL:            res.TTL,
		ExpiresAt:      res.LicenseExpiresAt,
		TokenExpiresAt: now.Add(res.TTL),
		ValidatedAt:    now,
		NextCheckAt:    NextCheckAt(now, res.TTL, g.interval, g.margin),
		Plan:           res.Plan,
		Features:       res.Features,
		Source:         res.Source,
	}
	g.logger.Info("License validated",
		zap.String("source", res.Source),
		zap.Duration("ttl", res.TTL),
		zap.String("expires_at", res.LicenseExpiresAt),
		zap.Time("next_check", g.state.NextCheckAt))
	return g.copyLocked()
}

// Validate runs Check and Apply in sequence.
func (g *Gate) Validate(ctx context.Context) State {
	return g.Apply(g.Check(ctx))
}

// State returns a copy of the cached state. A token past its expiry reads as
// ERROR_EXPIRED until the next check.
func (g *Gate) State() State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.copyLocked()
}

func (g *Gate) copyLocked() State {
	s := g.state
	if s.Features != nil {
		s.Features = append([]string(nil), s.Features...)
	}
	if s.Valid && !g.now().Before(s.TokenExpiresAt) {
		s.Valid = false
		s.Status = ErrorExpired
		s.LastError = "license token expired"
	}
	return s
}

// Valid reports whether broadcasting is currently allowed.
func (g *Gate) Valid() bool {
	return g.State().Valid
}

// NextCheck returns when the next validation is due.
func (g *Gate) NextCheck() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state.NextCheckAt
}

// Due reports whether the next validation should run now.
func (g *Gate) Due() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return !g.now().Before(g.state.NextCheckAt)
}

// TTL returns the remaining token lifetime, zero when none is cached.
func (g *Gate) TTL() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.state.Valid {
		return 0
	}
	left := g.state.TokenExpiresAt.Sub(g.now())
	if left < 0 {
		return 0
	}
	return left
}

// Clear drops the cached token and makes a check due immediately.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = State{Status: StatusUnvalidated}
}

// NextCheckAt schedules the renewal of a token issued at validatedAt:
// validatedAt + min(interval, ttl-margin), or ttl/2 when ttl <= margin.
func NextCheckAt(validatedAt time.Time, ttl, interval, margin time.Duration) time.Time {
	renew := ttl - margin
	if ttl <= margin {
		renew = ttl / 2
	}
	if interval > 0 && interval < renew {
		renew = interval
	}
	return validatedAt.Add(renew)
}
