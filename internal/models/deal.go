package models

import (
	"time"

	"gorm.io/gorm"
)

// Deal is a closed position recorded in the history database.
type Deal struct {
	gorm.Model
	Ticket     int64     `gorm:"index" json:"ticket"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"type"`
	Volume     float64   `json:"volume"`
	OpenPrice  float64   `json:"openPrice"`
	ClosePrice float64   `json:"closePrice"`
	OpenTime   time.Time `json:"openTime"`
	CloseTime  time.Time `gorm:"index" json:"closeTime"`
	Profit     float64   `json:"profit"`
	Swap       float64   `json:"swap"`
	Commission float64   `json:"commission"`
	EventIndex uint64    `json:"eventIndex"`
	Reversed   bool      `json:"reversed,omitempty"`
	Comment    string    `json:"comment,omitempty"`
}

// NetProfit is the realized profit including swap and commission.
func (d Deal) NetProfit() float64 {
	return d.Profit + d.Swap + d.Commission
}
