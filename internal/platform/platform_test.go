package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hedge-sync-go/internal/config"
	"hedge-sync-go/internal/models"
)

const bridgeSnapshot = `{
  "balance": 10000.5, "equity": 10012.0, "margin": 120.0, "margin_free": 9892.0,
  "margin_level": 8343.3, "profit": 11.5, "leverage": 500, "currency": "USD",
  "server": "Demo-Server", "login": 5550123,
  "positions": [
    {"ticket": 42, "symbol": "EURUSD", "type": "BUY", "volume": 0.1, "price_open": 1.085,
     "price_current": 1.0861, "profit": 11.0, "swap": -0.5, "sl": 1.08, "tp": 1.09,
     "time": "2026-03-01T10:15:00", "magic": 7, "comment": "hedge"}
  ],
  "orders": [], "ticks": {}, "positions_count": 1, "orders_count": 0,
  "timestamp": "2026-03-01T10:20:00.123456"
}`

func setupBridge(t *testing.T, handler http.HandlerFunc) (*MT5HTTP, *httptest.Server) {
	server := httptest.NewServer(handler)
	cfg := &config.Platform{Kind: "mt5http", BaseURL: server.URL, Token: "secret", Timeout: time.Second, RateLimit: 1, Broker: "Demo Broker"}
	return NewMT5HTTP(cfg, zap.NewNop()), server
}

func TestMT5HTTP(t *testing.T) {
	t.Run("Snapshot", func(t *testing.T) {
		calls := 0
		m, server := setupBridge(t, func(w http.ResponseWriter, r *http.Request) {
			calls++
			assert.Equal(t, snapshotPath, r.URL.Path)
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(bridgeSnapshot))
		})
		defer server.Close()
		ctx := context.Background()

		acc, err := m.Account(ctx)
		require.NoError(t, err)
		assert.Equal(t, "5550123", acc.Login)
		assert.Equal(t, "Demo Broker", acc.Broker)
		assert.Equal(t, 10000.5, acc.Balance)
		assert.Equal(t, 9892.0, acc.FreeMargin)
		assert.Equal(t, 8343.3, acc.MarginLevel)

		positions, err := m.Positions(ctx)
		require.NoError(t, err)
		require.Len(t, positions, 1)
		p := positions[0]
		assert.Equal(t, int64(42), p.Ticket)
		assert.Equal(t, models.SideBuy, p.Side)
		assert.Equal(t, 1.085, p.OpenPrice)
		assert.Equal(t, 1.08, p.StopLoss)
		assert.Equal(t, time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC), p.OpenTime)
		assert.NoError(t, p.Validate())

		assert.Equal(t, 1, calls, "account and positions share one snapshot")
		assert.Nil(t, m.Transactions())
	})

	t.Run("BridgeError", func(t *testing.T) {
		m, server := setupBridge(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"Failed to connect to MT5"}`))
		})
		defer server.Close()

		_, err := m.Positions(context.Background())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "Failed to connect to MT5")
	})
}

func TestParseBridgeTime(t *testing.T) {
	got, err := parseBridgeTime("2026-03-01T10:20:00.123456")
	require.NoError(t, err)
	assert.Equal(t, 123456000, got.Nanosecond())

	_, err = parseBridgeTime("")
	assert.Error(t, err)
}

func TestSim(t *testing.T) {
	ctx := context.Background()
	s := NewSim(models.Account{Login: "1", Balance: 1000}, "")
	defer s.Close()

	p := s.Open("EURUSD", models.SideBuy, 0.1, 1.1000, 0, 0)
	tx := <-s.Transactions()
	assert.Equal(t, TxOpen, tx.Kind)
	assert.Equal(t, p.Ticket, tx.Ticket)

	s.SetPrice("EURUSD", 1.1010)
	positions, err := s.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 10.0, positions[0].Profit, 1e-6)

	acc, err := s.Account(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1010.0, acc.Equity, 1e-6)

	require.NoError(t, s.Modify(p.Ticket, 1.09, 1.12))
	assert.Equal(t, TxModify, (<-s.Transactions()).Kind)

	closed, err := s.ClosePosition(p.Ticket, 1.1020)
	require.NoError(t, err)
	assert.True(t, closed.Exact)
	assert.InDelta(t, 20.0, closed.Profit, 1e-6)
	assert.Equal(t, TxClose, (<-s.Transactions()).Kind)

	acc, err = s.Account(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1020.0, acc.Balance, 1e-6)

	_, err = s.ClosePosition(p.Ticket, 1.1)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	p, err := New(&config.Platform{Kind: "sim", Name: "MT5", AccountID: "77"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "MT5", p.Name())

	_, err = New(&config.Platform{Kind: "ctrader"}, zap.NewNop())
	assert.Error(t, err)
}
