// Package platform reads account and position state from the trading terminal.
package platform

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"hedge-sync-go/internal/config"
	"hedge-sync-go/internal/models"
)

// TransactionKind classifies a trade transaction pushed by the terminal.
type TransactionKind string

const (
	TxOpen   TransactionKind = "OPEN"
	TxClose  TransactionKind = "CLOSE"
	TxModify TransactionKind = "MODIFY"
)

// Transaction is a hint that the position set changed. When the terminal knows
// the exact closing deal, ClosePrice and Profit carry it.
type Transaction struct {
	Kind       TransactionKind
	Ticket     int64
	At         time.Time
	ClosePrice float64
	Profit     float64
	Exact      bool
}

// Platform is a read-only view of one brokerage account.
type Platform interface {
	// Name is reported in every envelope, e.g. "MT5".
	Name() string
	Account(ctx context.Context) (models.Account, error)
	Positions(ctx context.Context) ([]models.Position, error)
	// Transactions may return nil when the terminal only supports polling.
	Transactions() <-chan Transaction
	Close() error
}

// New creates the adapter selected by cfg.Kind.
func New(cfg *config.Platform, logger *zap.Logger) (Platform, error) {
	switch cfg.Kind {
	case "mt5http":
		return NewMT5HTTP(cfg, logger), nil
	case "sim":
		return NewSim(models.Account{
			Login:    cfg.AccountID,
			Broker:   cfg.Broker,
			Server:   cfg.Server,
			Currency: "USD",
			Leverage: 100,
			Balance:  10000,
			Equity:   10000,
		}, cfg.Name), nil
	default:
		return nil, fmt.Errorf("unknown platform kind %q", cfg.Kind)
	}
}
