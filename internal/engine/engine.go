// Package engine runs the master loop: it watches the account, publishes
// position lifecycle events and answers controller commands.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"hedge-sync-go/internal/config"
	"hedge-sync-go/internal/database"
	"hedge-sync-go/internal/journal"
	"hedge-sync-go/internal/license"
	"hedge-sync-go/internal/models"
	"hedge-sync-go/internal/platform"
	"hedge-sync-go/internal/registry"
	"hedge-sync-go/internal/tracker"
	"hedge-sync-go/internal/transport"
	"hedge-sync-go/internal/wire"
)

// TransportFactory opens a fresh transport, at startup and on every reopen.
type TransportFactory func() (transport.Transport, error)

// Options carries the collaborators of an Engine. History and Journal are
// optional; the commands backed by them then reply ERROR_NOT_ENABLED.
type Options struct {
	Platform      platform.Platform
	Gate          *license.Gate
	OpenTransport TransportFactory
	History       *database.HistoryStore
	Journal       *journal.Journal
	Version       string
}

// Engine is the synchronization core. All state lives in one goroutine, the
// one running Run.
type Engine struct {
	logger   *zap.Logger
	cfg      *config.Config
	platform platform.Platform
	gate     *license.Gate
	open     TransportFactory
	history  *database.HistoryStore
	journal  *journal.Journal
	version  string
	now      func() time.Time

	state     EngineState
	tracker   *tracker.Tracker
	publisher *Publisher

	transactions   <-chan platform.Transaction
	licenseResults chan licenseOutcome
	licenseBusy    bool
	paramsChanged  bool
	licenseWG      sync.WaitGroup
	licenseTimer   *time.Timer
}

type licenseOutcome struct {
	result license.Result
	err    error
}

// NewEngine creates an engine. Nothing is opened until Run.
func NewEngine(logger *zap.Logger, cfg *config.Config, opts Options) *Engine {
	return &Engine{
		logger:         logger.Named("engine"),
		cfg:            cfg,
		platform:       opts.Platform,
		gate:           opts.Gate,
		open:           opts.OpenTransport,
		history:        opts.History,
		journal:        opts.Journal,
		version:        opts.Version,
		now:            time.Now,
		tracker:        tracker.New(opts.Platform, logger),
		licenseResults: make(chan licenseOutcome, 1),
	}
}

// Run opens the transport and drives the loop until ctx is cancelled. A
// transport that cannot be opened is fatal; everything else is retried.
func (e *Engine) Run(ctx context.Context) error {
	e.state = newEngineState(registry.NewSessionID(), e.now())
	e.logger.Info("Starting engine", zap.String("session", e.state.SessionID), zap.String("platform", e.platform.Name()))

	t, err := e.open()
	if err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	e.publisher = NewPublisher(t, e.journal, e.platform.Name(), e.cfg.Platform.AccountID, e.logger)
	e.publisher.SetSessionID(e.state.SessionID)
	if e.journal != nil {
		if err := e.journal.Reset(); err != nil {
			e.logger.Warn("Journal reset failed", zap.Error(err))
		}
	}

	e.licenseTimer = time.NewTimer(time.Hour)
	e.licenseTimer.Stop()
	defer e.licenseTimer.Stop()
	// config identity until the terminal reports the account
	e.gate.SetParams(e.licenseParams())

	e.refreshAccount(ctx)
	e.seed(ctx)

	pollTicker := time.NewTicker(e.cfg.Engine.PollInterval)
	defer pollTicker.Stop()
	snapshotTicker := time.NewTicker(e.cfg.Engine.PublishInterval)
	defer snapshotTicker.Stop()
	heartbeatTicker := time.NewTicker(e.cfg.Engine.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	e.startLicenseCheck(ctx)
	e.transactions = e.platform.Transactions()

	e.logger.Info("Engine loop running",
		zap.Duration("poll", e.cfg.Engine.PollInterval),
		zap.Duration("snapshot", e.cfg.Engine.PublishInterval),
		zap.Duration("heartbeat", e.cfg.Engine.HeartbeatInterval))

	for {
		var requests <-chan transport.Request
		if cur := e.publisher.Transport(); cur != nil {
			requests = cur.Requests()
		}

		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case <-pollTicker.C:
			e.poll(ctx)
		case <-snapshotTicker.C:
			e.publishSnapshot()
		case <-heartbeatTicker.C:
			e.reopenIfDegraded()
			e.publishHeartbeat()
		case <-e.licenseTimer.C:
			e.startLicenseCheck(ctx)
		case out := <-e.licenseResults:
			e.applyLicense(out)
		case tx, ok := <-e.transactions:
			if !ok {
				e.transactions = nil
				continue
			}
			e.onTransaction(ctx, tx)
		case req := <-requests:
			req.Reply(e.handleCommand(req.Body))
		}
	}
}

// broadcasting reports whether events and snapshots may be published.
func (e *Engine) broadcasting() bool {
	return !e.state.Paused && e.gate.Valid()
}

func (e *Engine) refreshCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.Engine.RefreshTimeout)
}

// refreshAccount reads the account and reports the previous balance when it
// changed since the last read.
func (e *Engine) refreshAccount(ctx context.Context) (float64, bool) {
	rctx, cancel := e.refreshCtx(ctx)
	defer cancel()
	acc, err := e.platform.Account(rctx)
	if err != nil {
		e.setError(fmt.Errorf("read account: %w", err))
		return 0, false
	}

	first := !e.state.HasAccount
	prev := e.state.Account.Balance
	e.state.Account = acc
	e.state.HasAccount = true

	if first {
		e.onAccountKnown(acc)
		return 0, false
	}
	return prev, acc.Balance != prev
}

// onAccountKnown fills the identity used by envelopes and license checks.
func (e *Engine) onAccountKnown(acc models.Account) {
	if acc.Login != "" {
		e.publisher.SetAccountID(acc.Login)
	}
	e.gate.SetParams(e.licenseParams())
	e.logger.Info("Account identified", zap.String("login", acc.Login), zap.String("broker", acc.Broker), zap.String("server", acc.Server))

	switch {
	case e.licenseBusy:
		// the check in flight used the config identity
		e.paramsChanged = true
	case e.gate.State().Status == license.ErrorParam:
		e.licenseTimer.Reset(0)
	}
	if e.state.WasLicensed && !e.state.Connected {
		e.onLicensed()
	}
}

func (e *Engine) licenseParams() license.Params {
	acc := e.state.Account
	accountID := acc.Login
	if accountID == "" {
		accountID = e.cfg.Platform.AccountID
	}
	broker := acc.Broker
	if broker == "" {
		broker = e.cfg.Platform.Broker
	}
	return license.Params{
		Key:       e.cfg.License.Key,
		AccountID: accountID,
		Broker:    broker,
		DeviceID:  e.cfg.License.DeviceID,
		Endpoint:  e.cfg.License.Endpoint,
		Platform:  e.platform.Name(),
		Version:   e.version,
	}
}

// seed records the first observation without producing events.
func (e *Engine) seed(ctx context.Context) {
	rctx, cancel := e.refreshCtx(ctx)
	defer cancel()
	if _, err := e.tracker.Update(rctx); err != nil {
		e.setError(err)
		return
	}
	e.logger.Info("Position baseline recorded", zap.Int("positions", e.tracker.Count()))
}

func (e *Engine) poll(ctx context.Context) {
	prevBalance, balanceChanged := e.refreshAccount(ctx)

	rctx, cancel := e.refreshCtx(ctx)
	defer cancel()
	deltas, err := e.tracker.Update(rctx)
	if err != nil {
		e.setError(err)
		return
	}
	// A close reported by the terminal is queued before the position leaves
	// the listing, so draining after the read catches it.
	e.drainTransactions()

	for _, d := range deltas {
		e.handleDelta(d)
	}
	e.expireCloses()
	if balanceChanged && e.broadcasting() {
		e.publishEvent(wire.TypeAccountUpdate, wire.AccountUpdateData{
			Account:         e.state.Account,
			PreviousBalance: prevBalance,
		})
	}
}

// onTransaction polls right away so event latency does not wait for the
// ticker.
func (e *Engine) onTransaction(ctx context.Context, tx platform.Transaction) {
	e.noteTransaction(tx)
	e.poll(ctx)
}

// noteTransaction keeps exact closing deals for the matching CLOSED event.
func (e *Engine) noteTransaction(tx platform.Transaction) {
	if tx.Kind == platform.TxClose && tx.Exact {
		e.state.exactCloses[tx.Ticket] = pendingClose{tx: tx}
	}
}

// expireCloses ages the closing deals no CLOSED event has used yet.
func (e *Engine) expireCloses() {
	for ticket, pc := range e.state.exactCloses {
		pc.polls++
		if pc.polls > closeWaitPolls {
			e.logger.Debug("Closing deal expired", zap.Int64("ticket", ticket))
			delete(e.state.exactCloses, ticket)
			continue
		}
		e.state.exactCloses[ticket] = pc
	}
}

func (e *Engine) drainTransactions() {
	for {
		select {
		case tx, ok := <-e.transactions:
			if !ok {
				e.transactions = nil
				return
			}
			e.noteTransaction(tx)
		default:
			return
		}
	}
}

func (e *Engine) handleDelta(d tracker.Delta) {
	log := e.logger.With(zap.String("kind", string(d.Kind)), zap.Int64("ticket", d.Ticket), zap.String("symbol", d.Position.Symbol))

	switch d.Kind {
	case tracker.Opened:
		index := e.publishEvent(wire.TypePositionOpened, wire.OpenedData{Position: d.Position})
		log.Info("Position opened", zap.Uint64("index", index))

	case tracker.Closed:
		closePrice, profit, closeTime := d.ClosePrice, d.RealizedProfit, e.now()
		if pc, ok := e.state.exactCloses[d.Ticket]; ok {
			closePrice, profit, closeTime = pc.tx.ClosePrice, pc.tx.Profit, pc.tx.At
			delete(e.state.exactCloses, d.Ticket)
		}
		index := e.publishEvent(wire.TypePositionClosed, wire.ClosedData{
			Position:       d.Position,
			ClosePrice:     closePrice,
			RealizedProfit: profit,
			CloseTime:      wire.FormatTime(closeTime),
		})
		e.recordDeal(d.Previous, closePrice, profit, closeTime, index, false)
		log.Info("Position closed", zap.Uint64("index", index), zap.Float64("profit", profit))

	case tracker.Reversed:
		index := e.publishEvent(wire.TypePositionReversed, wire.ReversedData{
			Ticket:         d.Ticket,
			Previous:       d.Previous,
			Current:        d.Position,
			RealizedProfit: d.RealizedProfit,
		})
		e.recordDeal(d.Previous, d.ClosePrice, d.RealizedProfit, e.now(), index, true)
		log.Info("Position reversed", zap.Uint64("index", index), zap.String("side", string(d.Position.Side)))

	case tracker.Modified:
		index := e.publishEvent(wire.TypePositionModified, wire.ModifiedData{
			Ticket:         d.Ticket,
			Symbol:         d.Position.Symbol,
			PreviousSL:     d.Previous.StopLoss,
			PreviousTP:     d.Previous.TakeProfit,
			NewSL:          d.Position.StopLoss,
			NewTP:          d.Position.TakeProfit,
			PreviousVolume: d.Previous.Volume,
			NewVolume:      d.Position.Volume,
		})
		log.Info("Position modified", zap.Uint64("index", index))
	}
}

// publishEvent sends an event when broadcasting is allowed and returns its
// index, or zero when it was suppressed.
func (e *Engine) publishEvent(t wire.MessageType, data any) uint64 {
	if !e.broadcasting() {
		e.logger.Debug("Event suppressed", zap.String("type", string(t)), zap.Bool("paused", e.state.Paused))
		return 0
	}
	index, err := e.publisher.Event(t, data)
	if err != nil {
		e.setError(fmt.Errorf("publish %s: %w", t, err))
	}
	return index
}

func (e *Engine) recordDeal(p models.Position, closePrice, profit float64, closeTime time.Time, index uint64, reversed bool) {
	if e.history == nil {
		return
	}
	deal := &models.Deal{
		Ticket:     p.Ticket,
		Symbol:     p.Symbol,
		Side:       p.Side,
		Volume:     p.Volume,
		OpenPrice:  p.OpenPrice,
		ClosePrice: closePrice,
		OpenTime:   p.OpenTime,
		CloseTime:  closeTime.UTC(),
		Profit:     profit - p.Swap - p.Commission,
		Swap:       p.Swap,
		Commission: p.Commission,
		EventIndex: index,
		Reversed:   reversed,
		Comment:    p.Comment,
	}
	if err := e.history.Record(deal); err != nil {
		e.logger.Error("Failed to record deal", zap.Int64("ticket", p.Ticket), zap.Error(err))
	}
}

func (e *Engine) publishSnapshot() {
	if !e.broadcasting() || !e.state.HasAccount {
		return
	}
	err := e.publisher.Snapshot(wire.SnapshotData{
		Account:        e.state.Account,
		Positions:      e.tracker.Positions(),
		IsPaused:       e.state.Paused,
		IsLicenseValid: true,
	})
	if err != nil && !errors.Is(err, ErrDegraded) {
		e.setError(fmt.Errorf("publish snapshot: %w", err))
	}
}

// publishHeartbeat runs regardless of pause and license state so controllers
// can always see why nothing else is arriving.
func (e *Engine) publishHeartbeat() {
	lic := e.gate.State()
	acc := e.state.Account
	err := e.publisher.Heartbeat(wire.HeartbeatData{
		Balance:        acc.Balance,
		Equity:         acc.Equity,
		Margin:         acc.Margin,
		FreeMargin:     acc.FreeMargin,
		Profit:         acc.Profit,
		OpenPositions:  e.tracker.Count(),
		IsPaused:       e.state.Paused,
		IsLicenseValid: lic.Valid,
		LicenseStatus:  lic.Status,
		LicenseError:   lic.LastError,
		UptimeSeconds:  e.state.Uptime(e.now()),
	})
	if err != nil && !errors.Is(err, ErrDegraded) {
		e.setError(fmt.Errorf("publish heartbeat: %w", err))
	}
}

// reopenIfDegraded replaces a transport whose publish failed.
func (e *Engine) reopenIfDegraded() {
	if !e.publisher.Degraded() {
		return
	}
	if old := e.publisher.Transport(); old != nil {
		if err := old.Close(); err != nil {
			e.logger.Warn("Closing degraded transport failed", zap.Error(err))
		}
	}
	t, err := e.open()
	if err != nil {
		e.publisher.transport = nil
		e.setError(fmt.Errorf("reopen transport: %w", err))
		return
	}
	e.publisher.SetTransport(t)
	e.logger.Info("Transport reopened", zap.String("data", t.Info().DataEndpoint))
	if e.state.Registered {
		e.register()
	}
}

func (e *Engine) startLicenseCheck(ctx context.Context) {
	if e.licenseBusy {
		return
	}
	e.licenseBusy = true
	e.licenseWG.Add(1)
	go func() {
		defer e.licenseWG.Done()
		res, err := e.gate.Check(ctx)
		select {
		case e.licenseResults <- licenseOutcome{result: res, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (e *Engine) applyLicense(out licenseOutcome) {
	e.licenseBusy = false
	st := e.gate.Apply(out.result, out.err)

	delay := time.Until(st.NextCheckAt)
	if delay < 0 || (e.paramsChanged && st.Status == license.ErrorParam) {
		delay = 0
	}
	e.paramsChanged = false
	e.licenseTimer.Reset(delay)

	switch {
	case st.Valid && !e.state.WasLicensed:
		e.state.WasLicensed = true
		e.onLicensed()
	case !st.Valid && e.state.WasLicensed:
		e.state.WasLicensed = false
		e.setError(fmt.Errorf("license %s: %s", st.Status, st.LastError))
		e.logger.Warn("License no longer valid, broadcasting stopped", zap.String("status", st.Status))
	case !st.Valid:
		e.setError(fmt.Errorf("license %s: %s", st.Status, st.LastError))
	}
}

// onLicensed announces the master the first time the license is accepted.
// Without an account read yet it waits for onAccountKnown.
func (e *Engine) onLicensed() {
	if !e.state.HasAccount {
		return
	}
	if !e.state.Registered {
		e.register()
	}
	if e.state.Connected || e.state.Paused {
		return
	}
	info := e.publisher.Transport()
	curve := info != nil && info.Info().CurveEnabled
	index := e.publishEvent(wire.TypeConnected, wire.ConnectedData{
		Account:      e.state.Account,
		Positions:    e.tracker.Positions(),
		Version:      e.version,
		EventDriven:  e.platform.Transactions() != nil,
		CurveEnabled: curve,
	})
	if index > 0 {
		e.state.Connected = true
	}
}

func (e *Engine) registration() registry.Record {
	var info transport.Info
	if t := e.publisher.Transport(); t != nil {
		info = t.Info()
	}
	acc := e.state.Account
	login := acc.Login
	if login == "" {
		login = e.cfg.Platform.AccountID
	}
	return registry.Record{
		Login:           login,
		Broker:          acc.Broker,
		Server:          acc.Server,
		DataPort:        info.DataPort,
		CommandPort:     info.CommandPort,
		Role:            wire.RoleMaster,
		Version:         e.version,
		EventDriven:     e.platform.Transactions() != nil,
		CurveEnabled:    info.CurveEnabled,
		CurvePublicKey:  info.CurvePublicKey,
		Timestamp:       wire.FormatTime(e.now()),
		SessionID:       e.state.SessionID,
		Platform:        e.platform.Name(),
		Transport:       info.Kind,
		DataEndpoint:    info.DataEndpoint,
		CommandEndpoint: info.CommandEndpoint,
		PID:             os.Getpid(),
	}
}

func (e *Engine) register() {
	rec := e.registration()
	path, err := registry.Write(e.cfg.Registry.Dir, rec)
	if err != nil {
		e.setError(err)
		return
	}
	e.state.Registered = true
	e.logger.Info("Registered session", zap.String("path", path))
}

// shutdown announces the disconnect, closes the command channel before the
// publish channel and finally withdraws the registration.
func (e *Engine) shutdown() {
	e.logger.Info("Stopping engine...")
	if e.state.Connected {
		if _, err := e.publisher.Event(wire.TypeDisconnected, wire.DisconnectedData{Reason: "shutdown"}); err != nil {
			e.logger.Warn("DISCONNECTED not delivered", zap.Error(err))
		}
	}
	if t := e.publisher.Transport(); t != nil {
		if err := t.Close(); err != nil {
			e.logger.Warn("Transport close failed", zap.Error(err))
		}
	}
	if e.state.Registered {
		login := e.registration().Login
		if err := registry.Remove(e.cfg.Registry.Dir, login); err != nil {
			e.logger.Warn("Registration removal failed", zap.Error(err))
		}
	}
	e.licenseWG.Wait()
	e.logger.Info("Engine stopped", zap.Uint64("last_index", e.publisher.Index()))
}

func (e *Engine) setError(err error) {
	msg := err.Error()
	if msg != e.state.LastError {
		e.logger.Warn("Engine error", zap.Error(err))
	}
	e.state.LastError = msg
}
