package platform

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"hedge-sync-go/internal/config"
	"hedge-sync-go/internal/models"
	"hedge-sync-go/internal/wire"
)

const snapshotPath = "/api/mt5/snapshot"

// MT5HTTP polls the MT5 bridge snapshot endpoint. Account and Positions share
// one snapshot per rate-limit slot so a fast poll loop stays within the
// bridge's quota.
type MT5HTTP struct {
	client   *resty.Client
	limiter  *rate.Limiter
	name     string
	broker   string
	logger   *zap.Logger
	cacheFor time.Duration

	mu        sync.Mutex
	last      mt5Snapshot
	fetchedAt time.Time
}

var _ Platform = (*MT5HTTP)(nil)

// NewMT5HTTP creates the bridge adapter.
func NewMT5HTTP(cfg *config.Platform, logger *zap.Logger) *MT5HTTP {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetJSONUnmarshaler(wire.Unmarshal)
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	limit := rate.Limit(cfg.RateLimit)
	cacheFor := time.Duration(0)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	} else {
		cacheFor = time.Duration(float64(time.Second) / cfg.RateLimit)
	}

	name := cfg.Name
	if name == "" {
		name = "MT5"
	}
	return &MT5HTTP{
		client:   client,
		limiter:  rate.NewLimiter(limit, 1),
		name:     name,
		broker:   cfg.Broker,
		logger:   logger.Named("mt5http"),
		cacheFor: cacheFor,
	}
}

type mt5Position struct {
	Ticket       int64   `json:"ticket"`
	Symbol       string  `json:"symbol"`
	Type         string  `json:"type"`
	Volume       float64 `json:"volume"`
	PriceOpen    float64 `json:"price_open"`
	PriceCurrent float64 `json:"price_current"`
	Profit       float64 `json:"profit"`
	Swap         float64 `json:"swap"`
	Commission   float64 `json:"commission"`
	SL           float64 `json:"sl"`
	TP           float64 `json:"tp"`
	Time         string  `json:"time"`
	Magic        int64   `json:"magic"`
	Comment      string  `json:"comment"`
}

type mt5Snapshot struct {
	Balance     float64       `json:"balance"`
	Equity      float64       `json:"equity"`
	Margin      float64       `json:"margin"`
	MarginFree  float64       `json:"margin_free"`
	MarginLevel *float64      `json:"margin_level"`
	Profit      float64       `json:"profit"`
	Leverage    int           `json:"leverage"`
	Currency    string        `json:"currency"`
	Server      string        `json:"server"`
	Company     string        `json:"company"`
	Login       int64         `json:"login"`
	Positions   []mt5Position `json:"positions"`
	Error       string        `json:"error"`
}

// Name implements Platform.
func (m *MT5HTTP) Name() string { return m.name }

// Transactions implements Platform. The bridge is poll-only.
func (m *MT5HTTP) Transactions() <-chan Transaction { return nil }

// Close implements Platform.
func (m *MT5HTTP) Close() error { return nil }

// Account implements Platform.
func (m *MT5HTTP) Account(ctx context.Context) (models.Account, error) {
	snap, err := m.snapshot(ctx)
	if err != nil {
		return models.Account{}, err
	}
	broker := snap.Company
	if broker == "" {
		broker = m.broker
	}
	acc := models.Account{
		Login:      strconv.FormatInt(snap.Login, 10),
		Broker:     broker,
		Server:     snap.Server,
		Currency:   snap.Currency,
		Leverage:   snap.Leverage,
		Balance:    snap.Balance,
		Equity:     snap.Equity,
		Margin:     snap.Margin,
		FreeMargin: snap.MarginFree,
		Profit:     snap.Profit,
	}
	if snap.MarginLevel != nil {
		acc.MarginLevel = *snap.MarginLevel
	}
	return acc, nil
}

// Positions implements Platform. Records are mapped as-is; validation is the
// tracker's job.
func (m *MT5HTTP) Positions(ctx context.Context) ([]models.Position, error) {
	snap, err := m.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Position, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		openTime, err := parseBridgeTime(p.Time)
		if err != nil {
			m.logger.Debug("Unparseable position time", zap.Int64("ticket", p.Ticket), zap.String("time", p.Time))
		}
		out = append(out, models.Position{
			Ticket:       p.Ticket,
			Symbol:       p.Symbol,
			Side:         models.Side(p.Type),
			Volume:       p.Volume,
			OpenPrice:    p.PriceOpen,
			CurrentPrice: p.PriceCurrent,
			StopLoss:     p.SL,
			TakeProfit:   p.TP,
			Profit:       p.Profit,
			Swap:         p.Swap,
			Commission:   p.Commission,
			OpenTime:     openTime,
			Magic:        p.Magic,
			Comment:      p.Comment,
		})
	}
	return out, nil
}

func (m *MT5HTTP) snapshot(ctx context.Context) (mt5Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.fetchedAt.IsZero() && time.Since(m.fetchedAt) < m.cacheFor {
		return m.last, nil
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return mt5Snapshot{}, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	var snap mt5Snapshot
	resp, err := m.client.R().
		SetContext(ctx).
		SetResult(&snap).
		SetError(&snap).
		Get(snapshotPath)
	if err != nil {
		return mt5Snapshot{}, fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		msg := snap.Error
		if msg == "" {
			msg = resp.String()
		}
		return mt5Snapshot{}, fmt.Errorf("bridge error: status %d, body: %s", resp.StatusCode(), msg)
	}

	m.last = snap
	m.fetchedAt = time.Now()
	return snap, nil
}

var bridgeTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// parseBridgeTime accepts the bridge's naive ISO timestamps, read as UTC.
func parseBridgeTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	var lastErr error
	for _, layout := range bridgeTimeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
