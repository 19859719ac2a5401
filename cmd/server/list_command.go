package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"convoingest/internal/model"
	"convoingest/internal/repository"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var opts repository.ListOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored conversations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.store.List(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No conversations stored")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderConversations(records))
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.AgentID, "agent", "", "Only list conversations for this agent id")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "Maximum rows to show")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Rows to skip")
	return cmd
}

func renderConversations(records []model.ConversationRecord) string {
	headers := []string{"Conversation", "Agent", "Status", "Started", "Duration", "Turns", "CEFR", "Stored"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.ConversationID,
			rec.AgentID,
			valueOrDash(rec.Status),
			formatTime(rec.StartTime),
			formatDuration(rec.DurationSeconds),
			strconv.Itoa(len(rec.Transcript)),
			cefrLabel(rec.AIAnalysis),
			rec.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return renderTable(headers, rows, aligns)
}

func valueOrDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatDuration(secs *int) string {
	if secs == nil {
		return "-"
	}
	return (time.Duration(*secs) * time.Second).String()
}

func cefrLabel(a *model.AIAnalysis) string {
	switch {
	case a == nil:
		return "-"
	case a.IsSentinel():
		return "unknown"
	default:
		return a.CEFRLevel
	}
}
