package main

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"hedge-sync-go/internal/database"
	"hedge-sync-go/internal/follower"
	"hedge-sync-go/internal/wire"
)

// APIHandler holds dependencies for the dashboard endpoints.
type APIHandler struct {
	log     *zap.Logger
	history *database.HistoryStore
	monitor *follower.Monitor
	maxAge  time.Duration
	now     func() time.Time
}

// NewAPIHandler creates a new APIHandler. history may be nil.
func NewAPIHandler(log *zap.Logger, history *database.HistoryStore, monitor *follower.Monitor, maxAge time.Duration) *APIHandler {
	return &APIHandler{log: log, history: history, monitor: monitor, maxAge: maxAge, now: time.Now}
}

// MasterStatus is one row of /api/status.
type MasterStatus struct {
	follower.ConnectionSnapshot
	Stale bool `json:"stale"`
}

// StatusHandler returns the live view of every followed master.
func (h *APIHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	snaps := h.monitor.Snapshots()
	out := make([]MasterStatus, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, MasterStatus{ConnectionSnapshot: s, Stale: s.Stale(now, h.maxAge)})
	}
	h.writeJSON(w, out)
}

// DealsHandler returns the closed deals of the last ?days= days, most recent first.
func (h *APIHandler) DealsHandler(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "Deal history is not enabled", http.StatusNotFound)
		return
	}
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid days parameter", http.StatusBadRequest)
			return
		}
		days = n
	}

	deals, err := h.history.Since(h.now().AddDate(0, 0, -days))
	if err != nil {
		h.log.Error("Failed to get deals from database", zap.Error(err))
		http.Error(w, "Failed to get deals", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, deals)
}

// StatisticsResponse is the structure for the /api/statistics endpoint.
type StatisticsResponse struct {
	Since24h database.HistorySummary `json:"since_24h"`
	AllTime  database.HistorySummary `json:"all_time"`
}

// StatisticsHandler summarizes the deal history.
func (h *APIHandler) StatisticsHandler(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "Deal history is not enabled", http.StatusNotFound)
		return
	}
	all, err := h.history.Since(time.Time{})
	if err != nil {
		h.log.Error("Failed to get deals for statistics", zap.Error(err))
		http.Error(w, "Failed to calculate statistics", http.StatusInternalServerError)
		return
	}

	since24h := h.now().Add(-24 * time.Hour)
	recent := all[:0:0]
	for _, d := range all {
		if !d.CloseTime.Before(since24h) {
			recent = append(recent, d)
		}
	}
	h.writeJSON(w, StatisticsResponse{
		Since24h: database.Summarize(recent),
		AllTime:  database.Summarize(all),
	})
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, v any) {
	b, err := wire.Marshal(v)
	if err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}
