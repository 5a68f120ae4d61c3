package main

import (
	"fmt"
	"os"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"hedge-sync-go/internal/registry"
)

func newDiscoverCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "List masters registered on this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := registry.List(rc.RegistryDir)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no masters registered in %s\n", rc.RegistryDir)
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LOGIN\tBROKER\tPLATFORM\tTRANSPORT\tDATA\tCOMMAND\tCURVE\tPID\tALIVE\tSINCE")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%t\t%d\t%s\t%s\n",
					r.Login, r.Broker, r.Platform, r.Transport, r.DataEndpoint, r.CommandEndpoint,
					r.CurveEnabled, r.PID, strconv.FormatBool(processAlive(r.PID)), r.Timestamp)
			}
			return w.Flush()
		},
	}
}

// processAlive reports whether pid names a running process on this host.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
