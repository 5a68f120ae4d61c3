package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hedge-sync-go/internal/config"
	"hedge-sync-go/internal/database"
	"hedge-sync-go/internal/journal"
	"hedge-sync-go/internal/license"
	"hedge-sync-go/internal/models"
	"hedge-sync-go/internal/platform"
	"hedge-sync-go/internal/transport"
	"hedge-sync-go/internal/wire"
)

type published struct {
	topic wire.Topic
	env   wire.RawEnvelope
}

// memTransport records every publish and feeds requests from the test.
type memTransport struct {
	mu       sync.Mutex
	msgs     []published
	fail     bool
	closed   bool
	requests chan transport.Request
	info     transport.Info
}

func newMemTransport() *memTransport {
	return &memTransport{
		requests: make(chan transport.Request),
		info:     transport.Info{Kind: "mem", DataEndpoint: "mem://data", CommandEndpoint: "mem://command", DataPort: 51810, CommandPort: 51811},
	}
}

func (m *memTransport) Publish(topic wire.Topic, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return transport.ErrClosed
	}
	if m.fail {
		return errors.New("send buffer full")
	}
	env, err := wire.Decode(payload)
	if err != nil {
		return err
	}
	m.msgs = append(m.msgs, published{topic: topic, env: env})
	return nil
}

func (m *memTransport) Requests() <-chan transport.Request { return m.requests }
func (m *memTransport) Info() transport.Info               { return m.info }

func (m *memTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memTransport) setFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

func (m *memTransport) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *memTransport) byTopic(topic wire.Topic) []wire.RawEnvelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []wire.RawEnvelope
	for _, p := range m.msgs {
		if p.topic == topic {
			out = append(out, p.env)
		}
	}
	return out
}

func (m *memTransport) events() []wire.RawEnvelope { return m.byTopic(wire.TopicEvent) }

func (m *memTransport) eventsOf(t wire.MessageType) []wire.RawEnvelope {
	var out []wire.RawEnvelope
	for _, env := range m.events() {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

// call sends a command through the engine loop and returns the raw reply.
func (m *memTransport) call(t *testing.T, body string) []byte {
	t.Helper()
	req, reply := transport.NewRequest([]byte(body))
	select {
	case m.requests <- req:
	case <-time.After(2 * time.Second):
		t.Fatalf("engine did not accept %s", body)
	}
	select {
	case b := <-reply:
		return b
	case <-time.After(2 * time.Second):
		t.Fatalf("engine did not answer %s", body)
	}
	return nil
}

// stubValidator answers every check with the current result and records the
// identity each check was made with.
type stubValidator struct {
	valid atomic.Bool
	calls atomic.Int32

	mu   sync.Mutex
	seen []license.Params
}

func (s *stubValidator) Validate(ctx context.Context, p license.Params) (license.Result, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.seen = append(s.seen, p)
	s.mu.Unlock()
	if p.Key == "" || p.AccountID == "" {
		return license.Result{Code: license.ErrorParam, Error: "missing license key or account", Source: "stub"}, nil
	}
	if s.valid.Load() {
		return license.Result{Valid: true, Token: "tok", TTL: time.Hour, Code: license.StatusOK, Source: "stub"}, nil
	}
	return license.Result{Code: license.ErrorInvalid, Error: "License revoked", Source: "stub"}, nil
}

type harness struct {
	engine    *Engine
	sim       *platform.Sim
	mem       *memTransport
	validator *stubValidator
	history   *database.HistoryStore
	cfg       *config.Config
	cancel    context.CancelFunc
	done      chan error
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		License: config.License{
			Key: "KEY", DeviceID: "device", Endpoint: "https://license.invalid/validate",
			CheckInterval: time.Minute, RenewMargin: 10 * time.Second,
		},
		Platform:  config.Platform{Kind: "sim", Name: "MT5", AccountID: "5550123"},
		Transport: config.Transport{Kind: "zmq", EnableCommands: true},
		Engine: config.Engine{
			PollInterval:      10 * time.Millisecond,
			PublishInterval:   30 * time.Millisecond,
			HeartbeatInterval: 50 * time.Millisecond,
			RefreshTimeout:    time.Second,
		},
		Registry: config.Registry{Dir: filepath.Join(t.TempDir(), "sessions")},
	}
}

func (s *stubValidator) params() []license.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]license.Params(nil), s.seen...)
}

// flakyAccount fails the first n account reads.
type flakyAccount struct {
	platform.Platform
	failures atomic.Int32
}

func (f *flakyAccount) Account(ctx context.Context) (models.Account, error) {
	if f.failures.Add(-1) >= 0 {
		return models.Account{}, errors.New("terminal not ready")
	}
	return f.Platform.Account(ctx)
}

// newHarness builds an engine over a sim account. setup runs before Run so
// positions opened there form the silent baseline.
func newHarness(t *testing.T, licensed bool, setup func(s *platform.Sim)) *harness {
	return newHarnessWith(t, licensed, setup, nil, nil)
}

// newHarnessWith lets a test adjust the config and wrap the platform.
func newHarnessWith(t *testing.T, licensed bool, setup func(s *platform.Sim), tweak func(cfg *config.Config), wrap func(p platform.Platform) platform.Platform) *harness {
	t.Helper()
	cfg := testConfig(t)
	if tweak != nil {
		tweak(cfg)
	}
	logger := zap.NewNop()

	sim := platform.NewSim(models.Account{Login: "5550123", Broker: "Demo Broker", Server: "Demo-Server", Balance: 10000}, "MT5")
	if setup != nil {
		setup(sim)
		// drain the setup transactions so they do not race the seed
		for len(sim.Transactions()) > 0 {
			<-sim.Transactions()
		}
	}

	v := &stubValidator{}
	v.valid.Store(licensed)
	gate := license.NewGate(v, license.Params{}, cfg.License.CheckInterval, cfg.License.RenewMargin, logger)

	db, err := database.NewDatabase("file::memory:")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	history := database.NewHistoryStore(db)

	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	var p platform.Platform = sim
	if wrap != nil {
		p = wrap(sim)
	}

	mem := newMemTransport()
	h := &harness{sim: sim, mem: mem, validator: v, history: history, cfg: cfg, done: make(chan error, 1)}
	h.engine = NewEngine(logger, cfg, Options{
		Platform:      p,
		Gate:          gate,
		OpenTransport: func() (transport.Transport, error) { return mem, nil },
		History:       history,
		Journal:       j,
		Version:       "test",
	})
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.engine.Run(ctx) }()
	t.Cleanup(h.stop)
}

func (h *harness) stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	<-h.done
}

func (h *harness) waitEvent(t *testing.T, typ wire.MessageType, n int) []wire.RawEnvelope {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.mem.eventsOf(typ)) >= n }, 3*time.Second, 5*time.Millisecond, "waiting for %d %s", n, typ)
	return h.mem.eventsOf(typ)
}

func decodeReply[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, wire.Unmarshal(b, &v))
	return v
}
