package follower

import (
	"context"
	"time"

	"go.uber.org/zap"

	"hedge-sync-go/internal/transport"
	"hedge-sync-go/internal/wire"
)

const (
	receiveTimeout    = 200 * time.Millisecond
	minReconnectDelay = 500 * time.Millisecond
	maxReconnectDelay = 10 * time.Second
)

// Follower subscribes to one master's data endpoint and feeds a Monitor.
type Follower struct {
	Endpoint  string
	ServerKey string
	AccountID string // known from the registry; empty until the first message otherwise

	monitor *Monitor
	logger  *zap.Logger
}

// NewFollower creates a follower for endpoint.
func NewFollower(endpoint, serverKey, accountID string, monitor *Monitor, logger *zap.Logger) *Follower {
	return &Follower{
		Endpoint:  endpoint,
		ServerKey: serverKey,
		AccountID: accountID,
		monitor:   monitor,
		logger:    logger.With(zap.String("endpoint", endpoint)),
	}
}

// Run receives until ctx is cancelled, reconnecting with backoff on errors.
// onMessage, when non-nil, is called after every applied payload.
func (f *Follower) Run(ctx context.Context, onMessage func(ConnectionSnapshot)) error {
	delay := minReconnectDelay
	status := StatusConnecting
	for {
		f.setStatus(status, nil)
		err := f.session(ctx, onMessage)
		if ctx.Err() != nil {
			f.setStatus(StatusDisconnected, nil)
			return nil
		}
		f.logger.Warn("Subscription failed, reconnecting", zap.Error(err), zap.Duration("delay", delay))
		f.setStatus(StatusReconnecting, err)
		status = StatusReconnecting

		select {
		case <-ctx.Done():
			f.setStatus(StatusDisconnected, nil)
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (f *Follower) session(ctx context.Context, onMessage func(ConnectionSnapshot)) error {
	sub, err := transport.Subscribe(f.Endpoint, f.ServerKey)
	if err != nil {
		return err
	}
	defer sub.Close()
	f.logger.Info("Subscribed")

	for ctx.Err() == nil {
		topic, payload, ok, err := sub.Receive(receiveTimeout)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		env, err := wire.Decode(payload)
		if err != nil {
			f.logger.Debug("Dropped undecodable message", zap.String("topic", string(topic)), zap.Error(err))
			continue
		}
		if err := f.monitor.Apply(env); err != nil {
			continue
		}
		if f.AccountID == "" {
			f.AccountID = env.AccountID
		}
		if onMessage == nil {
			continue
		}
		if snap, ok := f.monitor.Snapshot(env.AccountID); ok {
			onMessage(snap)
		}
	}
	return nil
}

func (f *Follower) setStatus(status Status, err error) {
	if f.AccountID == "" {
		return
	}
	f.monitor.SetStatus(f.AccountID, status, err)
}
