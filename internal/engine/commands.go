package engine

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"hedge-sync-go/internal/database"
	"hedge-sync-go/internal/license"
	"hedge-sync-go/internal/transport"
	"hedge-sync-go/internal/wire"
)

const (
	defaultHistoryDays = 30
	maxHistoryDays     = 365
	defaultEventLimit  = 100
	maxEventLimit      = 1000
)

// handleCommand answers one request. It never fails: every problem becomes a
// structured failure reply.
func (e *Engine) handleCommand(body []byte) []byte {
	ts := wire.FormatTime(e.now())

	var req wire.Request
	if err := wire.Unmarshal(body, &req); err != nil {
		return e.encodeReply(wire.Failure("", ts, wire.CodeBadRequest, fmt.Sprintf("Malformed request: %v", err)))
	}
	action := strings.ToUpper(strings.TrimSpace(req.Action))
	log := e.logger.With(zap.String("action", action))

	if !knownAction(action) {
		log.Warn("Unknown command")
		return e.encodeReply(wire.Failure(req.Action, ts, wire.CodeUnknownCommand, "Unknown command: "+req.Action))
	}

	// Without a license only liveness and status queries are served.
	if action != wire.ActionStatus && action != wire.ActionPing {
		if st := e.gate.State(); !st.Valid {
			log.Info("Command rejected, license invalid", zap.String("status", st.Status))
			return e.encodeReply(wire.Failure(action, ts, wire.CodeLicense, licenseMessage(st)))
		}
	}

	log.Debug("Handling command")
	var reply any
	switch action {
	case wire.ActionPause:
		e.state.Paused = true
		log.Info("Publishing paused")
		reply = wire.PauseReply{ReplyHeader: wire.OK(action, ts), IsPaused: true}
	case wire.ActionResume:
		e.state.Paused = false
		log.Info("Publishing resumed")
		if e.state.WasLicensed && !e.state.Connected {
			e.onLicensed()
		}
		reply = wire.PauseReply{ReplyHeader: wire.OK(action, ts), IsPaused: false}
	case wire.ActionStatus:
		reply = e.statusReply(ts)
	case wire.ActionPing:
		reply = wire.PingReply{ReplyHeader: wire.OK(action, ts), Pong: true, UptimeSeconds: e.state.Uptime(e.now())}
	case wire.ActionConfig:
		reply = e.configReply(ts)
	case wire.ActionGetHistory:
		reply = e.historyReply(ts, req.Days)
	case wire.ActionGetCurveKey:
		reply = e.curveKeyReply(ts)
	case wire.ActionGetEvents:
		reply = e.eventsReply(ts, req.Since, req.Limit)
	}
	return e.encodeReply(reply)
}

func knownAction(action string) bool {
	switch action {
	case wire.ActionPause, wire.ActionResume, wire.ActionStatus, wire.ActionPing, wire.ActionConfig,
		wire.ActionGetHistory, wire.ActionGetCurveKey, wire.ActionGetEvents:
		return true
	}
	return false
}

func licenseMessage(st license.State) string {
	if st.LastError != "" {
		return fmt.Sprintf("License invalid (%s): %s", st.Status, st.LastError)
	}
	return fmt.Sprintf("License invalid (%s)", st.Status)
}

func (e *Engine) encodeReply(reply any) []byte {
	b, err := wire.Marshal(reply)
	if err != nil {
		e.logger.Error("Failed to encode reply", zap.Error(err))
		b, _ = wire.Marshal(wire.Failure("", wire.FormatTime(e.now()), wire.CodeInternal, "failed to encode reply"))
	}
	return b
}

func (e *Engine) transportInfo() transport.Info {
	if t := e.publisher.Transport(); t != nil {
		return t.Info()
	}
	return transport.Info{}
}

func (e *Engine) statusReply(ts string) wire.StatusReply {
	lic := e.gate.State()
	acc := e.state.Account
	accountID := acc.Login
	if accountID == "" {
		accountID = e.cfg.Platform.AccountID
	}
	reply := wire.StatusReply{
		ReplyHeader:       wire.OK(wire.ActionStatus, ts),
		AccountID:         accountID,
		Platform:          e.platform.Name(),
		IsPaused:          e.state.Paused,
		IsLicenseValid:    lic.Valid,
		LicenseStatus:     lic.Status,
		LicenseError:      lic.LastError,
		LicenseExpiresAt:  lic.ExpiresAt,
		OpenPositions:     e.tracker.Count(),
		EventIndex:        e.publisher.Index(),
		TransportDegraded: e.publisher.Degraded(),
		LastError:         e.state.LastError,
		Balance:           acc.Balance,
		Equity:            acc.Equity,
		UptimeSeconds:     e.state.Uptime(e.now()),
	}
	if !lic.NextCheckAt.IsZero() {
		reply.NextLicenseCheckAt = wire.FormatTime(lic.NextCheckAt)
	}
	return reply
}

func (e *Engine) configReply(ts string) wire.ConfigReply {
	info := e.transportInfo()
	return wire.ConfigReply{
		ReplyHeader:       wire.OK(wire.ActionConfig, ts),
		Transport:         info.Kind,
		DataPort:          info.DataPort,
		CommandPort:       info.CommandPort,
		DataEndpoint:      info.DataEndpoint,
		CommandEndpoint:   info.CommandEndpoint,
		PollIntervalMs:    e.cfg.Engine.PollInterval.Milliseconds(),
		PublishIntervalMs: e.cfg.Engine.PublishInterval.Milliseconds(),
		HeartbeatMs:       e.cfg.Engine.HeartbeatInterval.Milliseconds(),
		LicenseCheckSec:   int64(e.cfg.License.CheckInterval / time.Second),
		CurveEnabled:      info.CurveEnabled,
		CurvePublicKey:    info.CurvePublicKey,
		Version:           e.version,
	}
}

func (e *Engine) historyReply(ts string, days int) any {
	if e.history == nil {
		return wire.Failure(wire.ActionGetHistory, ts, wire.CodeNotEnabled, "History is not enabled")
	}
	switch {
	case days <= 0:
		days = defaultHistoryDays
	case days > maxHistoryDays:
		days = maxHistoryDays
	}
	deals, err := e.history.Since(e.now().AddDate(0, 0, -days))
	if err != nil {
		e.logger.Error("History query failed", zap.Error(err))
		return wire.Failure(wire.ActionGetHistory, ts, wire.CodeInternal, err.Error())
	}
	sum := database.Summarize(deals)
	return wire.HistoryReply{
		ReplyHeader:     wire.OK(wire.ActionGetHistory, ts),
		Days:            days,
		Count:           sum.TotalDeals,
		Deals:           deals,
		NetProfit:       sum.NetProfit,
		ProfitableDeals: sum.ProfitableDeals,
		WinRate:         sum.WinRate,
	}
}

func (e *Engine) curveKeyReply(ts string) any {
	info := e.transportInfo()
	if !info.CurveEnabled {
		return wire.Failure(wire.ActionGetCurveKey, ts, wire.CodeNotEnabled, "Encryption is not enabled")
	}
	return wire.CurveKeyReply{ReplyHeader: wire.OK(wire.ActionGetCurveKey, ts), CurvePublicKey: info.CurvePublicKey}
}

func (e *Engine) eventsReply(ts string, since uint64, limit int) any {
	if e.journal == nil {
		return wire.Failure(wire.ActionGetEvents, ts, wire.CodeNotEnabled, "Event journal is not enabled")
	}
	switch {
	case limit <= 0:
		limit = defaultEventLimit
	case limit > maxEventLimit:
		limit = maxEventLimit
	}
	page, err := e.journal.Since(since, limit)
	if err != nil {
		e.logger.Error("Journal query failed", zap.Error(err))
		return wire.Failure(wire.ActionGetEvents, ts, wire.CodeInternal, err.Error())
	}
	events := make([]wire.RawMessage, 0, len(page.Entries))
	for _, entry := range page.Entries {
		events = append(events, entry.Data)
	}
	return wire.EventsReply{
		ReplyHeader: wire.OK(wire.ActionGetEvents, ts),
		Since:       since,
		LastIndex:   page.LastIndex,
		Count:       len(events),
		Events:      events,
		Truncated:   page.Truncated,
		OldestKept:  page.OldestKept,
	}
}
