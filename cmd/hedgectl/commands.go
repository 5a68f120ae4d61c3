package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"hedge-sync-go/internal/transport"
	"hedge-sync-go/internal/wire"
)

// send delivers req to the resolved target and prints the reply. A reply
// with success=false is returned as an error after printing.
func (rc *rootConfig) send(cmd *cobra.Command, req wire.Request) error {
	t, err := rc.resolve(true)
	if err != nil {
		return err
	}
	reply, err := transport.Dial(t.CommandEndpoint, t.ServerKey, req, rc.Timeout)
	if err != nil {
		return err
	}

	var out bytes.Buffer
	if err := json.Indent(&out, reply, "", "  "); err != nil {
		out.Reset()
		out.Write(reply)
	}
	fmt.Fprintln(cmd.OutOrStdout(), out.String())

	var h wire.ReplyHeader
	if err := wire.Unmarshal(reply, &h); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	if !h.Success {
		return fmt.Errorf("%s failed: %s (%s)", req.Action, h.Error, h.Code)
	}
	return nil
}

func simpleCmd(rc *rootConfig, use, short, action string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.send(cmd, wire.Request{Action: action})
		},
	}
}

func newCommandCmds(rc *rootConfig) []*cobra.Command {
	var days int
	history := &cobra.Command{
		Use:   "history",
		Short: "Show closed deals of the last days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.send(cmd, wire.Request{Action: wire.ActionGetHistory, Days: days})
		},
	}
	history.Flags().IntVar(&days, "days", 30, "how many days back")

	var since uint64
	var limit int
	events := &cobra.Command{
		Use:   "events",
		Short: "Replay published events after an index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.send(cmd, wire.Request{Action: wire.ActionGetEvents, Since: since, Limit: limit})
		},
	}
	events.Flags().Uint64Var(&since, "since", 0, "return events with a greater index")
	events.Flags().IntVar(&limit, "limit", 100, "maximum number of events")

	return []*cobra.Command{
		simpleCmd(rc, "status", "Show engine, license and account state", wire.ActionStatus),
		simpleCmd(rc, "ping", "Check that the master answers", wire.ActionPing),
		simpleCmd(rc, "pause", "Stop broadcasting events and snapshots", wire.ActionPause),
		simpleCmd(rc, "resume", "Resume broadcasting", wire.ActionResume),
		simpleCmd(rc, "config", "Show the master's static configuration", wire.ActionConfig),
		simpleCmd(rc, "curve-key", "Print the master's CURVE public key", wire.ActionGetCurveKey),
		history,
		events,
	}
}
