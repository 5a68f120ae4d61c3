package models

import (
	"fmt"
	"time"
)

// Side is the direction of an open position.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the hedging direction.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Position is an open trade on the brokerage account.
// Ticket, Symbol, Side, OpenPrice and OpenTime never change while the position exists.
type Position struct {
	Ticket       int64     `json:"ticket"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"type"`
	Volume       float64   `json:"volume"`
	OpenPrice    float64   `json:"openPrice"`
	CurrentPrice float64   `json:"currentPrice"`
	StopLoss     float64   `json:"sl"`
	TakeProfit   float64   `json:"tp"`
	Profit       float64   `json:"profit"`
	Swap         float64   `json:"swap"`
	Commission   float64   `json:"commission"`
	OpenTime     time.Time `json:"openTime"`
	Magic        int64     `json:"magic,omitempty"`
	Comment      string    `json:"comment,omitempty"`
}

// Validate rejects records the platform should never have produced.
func (p Position) Validate() error {
	switch {
	case p.Ticket <= 0:
		return fmt.Errorf("invalid ticket %d", p.Ticket)
	case p.Symbol == "":
		return fmt.Errorf("ticket %d: empty symbol", p.Ticket)
	case !p.Side.Valid():
		return fmt.Errorf("ticket %d: unknown side %q", p.Ticket, p.Side)
	case p.Volume <= 0:
		return fmt.Errorf("ticket %d: non-positive volume %v", p.Ticket, p.Volume)
	}
	return nil
}

// NetProfit is the floating profit including swap and commission.
func (p Position) NetProfit() float64 {
	return p.Profit + p.Swap + p.Commission
}
