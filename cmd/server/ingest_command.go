package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"convoingest/internal/transcripts"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <conversation-id>",
		Short: "Fetch one conversation from the provider and ingest it",
		Args:  cobra.ExactArgs(1),
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

			conversationID := args[0]
			rec, err := provider.FetchConversationByID(cmd.Context(), conversationID)
			if errors.Is(err, transcripts.ErrNotFound) {
				return fmt.Errorf("conversation %s not found at %s", conversationID, provider.Name())
			}
			if err != nil {
				return err
			}

			outcome, err := a.coordinator.Ingest(cmd.Context(), rec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", conversationID, outcome)
			return nil
		},
	}
}
