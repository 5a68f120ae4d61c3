package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hedge-sync-go/internal/database"
	"hedge-sync-go/internal/follower"
)

func newDashboardCmd(rc *rootConfig) *cobra.Command {
	var (
		addr   string
		dsn    string
		data   string
		maxAge time.Duration
	)
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Serve a JSON dashboard of followed masters and the deal history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := rc.log
			if dsn == "" {
				dsn = rc.cfg.Database.DSN
			}

			var history *database.HistoryStore
			if dsn != "" {
				db, err := database.NewDatabase(dsn)
				if err != nil {
					return err
				}
				history = database.NewHistoryStore(db)
			}

			feeds, err := rc.feeds(data)
			if err != nil {
				log.Warn("Serving history only", zap.Error(err))
			}

			ctx, cancel := signalContext()
			defer cancel()

			monitor := follower.NewMonitor(log)
			followers := make(chan struct{})
			go func() {
				defer close(followers)
				follow(ctx, feeds, monitor, log, nil)
			}()

			// Setup HTTP server
			mux := http.NewServeMux()
			api := NewAPIHandler(log, history, monitor, maxAge)
			mux.HandleFunc("/api/status", api.StatusHandler)
			mux.HandleFunc("/api/deals", api.DealsHandler)
			mux.HandleFunc("/api/statistics", api.StatisticsHandler)

			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				srv.Shutdown(shutdownCtx)
			}()

			log.Info("Starting web server", zap.String("address", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				cancel()
				<-followers
				return err
			}
			<-followers
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&dsn, "db", "", "deal history database (default from config)")
	cmd.Flags().StringVar(&data, "data", "", "data endpoint to follow instead of the registry")
	cmd.Flags().DurationVar(&maxAge, "max-age", 15*time.Second, "age after which a master is reported stale")
	return cmd
}
