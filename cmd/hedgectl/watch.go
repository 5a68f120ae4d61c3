package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hedge-sync-go/internal/follower"
	"hedge-sync-go/internal/registry"
)

// feed is one data endpoint to subscribe to.
type feed struct {
	login     string
	endpoint  string
	serverKey string
}

// feeds returns the data endpoints to follow: the explicit one, the --login
// master, or every registered zmq master.
func (rc *rootConfig) feeds(data string) ([]feed, error) {
	if data != "" {
		return []feed{{login: rc.Login, endpoint: data, serverKey: rc.ServerKey}}, nil
	}
	if rc.Login != "" {
		t, err := rc.resolve(false)
		if err != nil {
			return nil, err
		}
		return []feed{{login: t.Login, endpoint: t.DataEndpoint, serverKey: t.ServerKey}}, nil
	}

	records, err := registry.List(rc.RegistryDir)
	if err != nil {
		return nil, err
	}
	var out []feed
	for _, r := range records {
		if r.Transport != "zmq" {
			rc.log.Warn("Skipping master without a zmq data endpoint", zap.String("login", r.Login), zap.String("transport", r.Transport))
			continue
		}
		f := feed{login: r.Login, endpoint: r.DataEndpoint}
		if r.CurveEnabled {
			f.serverKey = r.CurvePublicKey
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no zmq masters registered in %s", rc.RegistryDir)
	}
	return out, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// follow runs one follower per feed until ctx is cancelled.
func follow(ctx context.Context, feeds []feed, monitor *follower.Monitor, log *zap.Logger, onMessage func(follower.ConnectionSnapshot)) {
	var wg sync.WaitGroup
	for _, f := range feeds {
		if !strings.HasPrefix(f.endpoint, "tcp://") && !strings.HasPrefix(f.endpoint, "ipc://") {
			log.Warn("Skipping non-zmq data endpoint", zap.String("endpoint", f.endpoint))
			continue
		}
		wg.Add(1)
		go func(f feed) {
			defer wg.Done()
			follower.NewFollower(f.endpoint, f.serverKey, f.login, monitor, log).Run(ctx, onMessage)
		}(f)
	}
	wg.Wait()
}

func newWatchCmd(rc *rootConfig) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the broadcasts of one or all masters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			feeds, err := rc.feeds(data)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			out := cmd.OutOrStdout()
			var mu sync.Mutex
			monitor := follower.NewMonitor(rc.log)
			follow(ctx, feeds, monitor, rc.log, func(s follower.ConnectionSnapshot) {
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintf(out, "%s %-10s #%-6d %-12s bal=%.2f eq=%.2f pl=%.2f positions=%d paused=%t license=%t\n",
					s.LastUpdated.Format("15:04:05.000"), s.AccountID, s.LastEventIndex, s.Status,
					s.Balance, s.Equity, s.FloatingPL, len(s.Positions), s.Paused, s.LicenseValid)
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "data endpoint, e.g. tcp://127.0.0.1:51810")
	return cmd
}
