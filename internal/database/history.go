package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"hedge-sync-go/internal/models"
)

// HistoryStore persists closed deals for the GET_HISTORY command.
type HistoryStore struct {
	db *gorm.DB
}

// NewHistoryStore wraps an open database.
func NewHistoryStore(db *gorm.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Record saves a closed deal.
func (s *HistoryStore) Record(deal *models.Deal) error {
	if err := s.db.Create(deal).Error; err != nil {
		return fmt.Errorf("failed to save deal %d: %w", deal.Ticket, err)
	}
	return nil
}

// Since returns deals closed at or after since, most recent first.
func (s *HistoryStore) Since(since time.Time) ([]models.Deal, error) {
	var deals []models.Deal
	if err := s.db.Where("close_time >= ?", since).Order("close_time desc").Find(&deals).Error; err != nil {
		return nil, fmt.Errorf("failed to query deals: %w", err)
	}
	return deals, nil
}

// HistorySummary aggregates a deal list.
type HistorySummary struct {
	TotalDeals      int     `json:"totalDeals"`
	ProfitableDeals int     `json:"profitableDeals"`
	WinRate         float64 `json:"winRate"`
	NetProfit       float64 `json:"netProfit"`
	TotalVolume     float64 `json:"totalVolume"`
}

// Summarize computes totals over deals.
func Summarize(deals []models.Deal) HistorySummary {
	var s HistorySummary
	for _, d := range deals {
		s.TotalDeals++
		net := d.NetProfit()
		if net > 0 {
			s.ProfitableDeals++
		}
		s.NetProfit += net
		s.TotalVolume += d.Volume
	}
	if s.TotalDeals > 0 {
		s.WinRate = float64(s.ProfitableDeals) / float64(s.TotalDeals)
	}
	return s
}
