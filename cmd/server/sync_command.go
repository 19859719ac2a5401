package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"convoingest/internal/poller"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run a single polling cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			provider, err := a.requireProvider()
			if err != nil {
				return err
			}
			syncer := poller.New(provider, a.coordinator, poller.Options{
				Interval: a.cfg.SyncInterval,
				AgentID:  a.cfg.ElevenLabsAgentID,
			}, a.logger)

			report, err := syncer.RunCycle(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Fetched:         %d\n", report.Fetched)
			fmt.Fprintf(out, "New:             %d\n", report.Candidates)
			fmt.Fprintf(out, "Stored:          %d\n", report.Stored)
			fmt.Fprintf(out, "Already stored:  %d\n", report.AlreadyExisted)
			fmt.Fprintf(out, "Not found:       %d\n", report.NotFound)
			fmt.Fprintf(out, "Failed:          %d\n", report.Failed)
			if report.Failed > 0 {
				return fmt.Errorf("%d conversation(s) failed; see logs", report.Failed)
			}
			return nil
		},
	}
}
