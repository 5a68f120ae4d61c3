// Command hedgectl discovers, controls and watches running masters.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hedge-sync-go/internal/config"
	"hedge-sync-go/internal/logger"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "1.0.0"

// rootConfig carries the persistent flags and what PersistentPreRunE builds from them.
type rootConfig struct {
	ConfigDir   string
	RegistryDir string
	Login       string
	Endpoint    string
	ServerKey   string
	Timeout     time.Duration
	LogLevel    string

	cfg config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	rc := &rootConfig{}
	cmd := &cobra.Command{
		Use:   "hedgectl",
		Short: "Control and monitor hedge-sync masters",
		Long: `hedgectl talks to running masters over their command channel.

Targets are resolved from --endpoint, or from the registry directory by
--login, or automatically when exactly one master is registered.

Examples:
  hedgectl discover
  hedgectl status --login 5550123
  hedgectl pause
  hedgectl events --since 40
  hedgectl watch`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(rc.ConfigDir)
			if err != nil {
				return err
			}
			rc.cfg = cfg
			if rc.RegistryDir == "" {
				rc.RegistryDir = cfg.Registry.Dir
			}
			rc.log, err = logger.NewLogger("hedgectl", rc.LogLevel, "console")
			return err
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&rc.ConfigDir, "config", "c", "./configs", "directory holding config.yml")
	pf.StringVar(&rc.RegistryDir, "registry", "", "registry directory (default from config)")
	pf.StringVarP(&rc.Login, "login", "l", "", "account login of the target master")
	pf.StringVarP(&rc.Endpoint, "endpoint", "e", "", "command endpoint, e.g. tcp://127.0.0.1:51811")
	pf.StringVar(&rc.ServerKey, "server-key", "", "CURVE public key of the target (default from registry)")
	pf.DurationVarP(&rc.Timeout, "timeout", "t", 3*time.Second, "reply timeout")
	pf.StringVar(&rc.LogLevel, "log-level", "warn", "log level")

	cmd.AddCommand(newCommandCmds(rc)...)
	cmd.AddCommand(
		newDiscoverCmd(rc),
		newWatchCmd(rc),
		newDashboardCmd(rc),
		newVersionCmd(),
	)
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
