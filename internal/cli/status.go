package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/utafrali/catalogsync/internal/domain"
)

func newStatusCmd(rt *session) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a full sync is running and recent outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			health, err := rt.client().Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("get status: %w", err)
			}
			return rt.output(cmd, health, func(w io.Writer) { printHealth(w, health) })
		},
	}
}

func newLogsCmd(rt *session) *cobra.Command {
	var q LogQuery
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List sync logs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := rt.client().ListLogs(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("list logs: %w", err)
			}
			return rt.output(cmd, list, func(w io.Writer) {
				printLogTable(w, list.Logs)
				fmt.Fprintf(w, "\n%d of %d (offset %d)\n", len(list.Logs), list.Total, list.Offset)
			})
		},
	}
	cmd.Flags().StringVar(&q.Kind, "kind", "", "filter by kind (full, single)")
	cmd.Flags().StringVar(&q.Status, "status", "", "filter by status, comma separated")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "maximum logs to return")
	cmd.Flags().IntVar(&q.Offset, "offset", 0, "logs to skip")
	return cmd
}

func newLogCmd(rt *session) *cobra.Command {
	return &cobra.Command{
		Use:   "log <sync-id>",
		Short: "Show one sync log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := rt.client().GetLog(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get log: %w", err)
			}
			return rt.output(cmd, log, func(w io.Writer) { printLog(w, log) })
		},
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

func printLog(w io.Writer, log *domain.SyncLog) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", log.ID)
	fmt.Fprintf(tw, "Kind:\t%s\n", log.Kind)
	if log.TargetID != "" {
		fmt.Fprintf(tw, "Product:\t%s\n", log.TargetID)
	}
	fmt.Fprintf(tw, "Status:\t%s\n", log.Status)
	fmt.Fprintf(tw, "Started:\t%s\n", formatTime(&log.StartedAt))
	fmt.Fprintf(tw, "Finished:\t%s\n", formatTime(log.FinishedAt))
	if log.FinishedAt != nil {
		fmt.Fprintf(tw, "Duration:\t%s\n", log.Duration().Round(time.Millisecond))
	}
	fmt.Fprintf(tw, "Processed:\t%d\n", log.ItemsProcessed)
	fmt.Fprintf(tw, "Failed:\t%d\n", log.ItemsFailed)
	fmt.Fprintf(tw, "Deleted:\t%d\n", log.ItemsDeleted)
	if log.FirstError != nil {
		fmt.Fprintf(tw, "First error:\t%s\n", *log.FirstError)
	}
	_ = tw.Flush()
}

func printLogTable(w io.Writer, logs []domain.SyncLog) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tPRODUCT\tSTATUS\tSTARTED\tPROCESSED\tFAILED\tDELETED")
	for i := range logs {
		l := &logs[i]
		target := l.TargetID
		if target == "" {
			target = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			l.ID, l.Kind, target, l.Status, formatTime(&l.StartedAt),
			l.ItemsProcessed, l.ItemsFailed, l.ItemsDeleted)
	}
	_ = tw.Flush()
}

func printHealth(w io.Writer, h *domain.SyncHealth) {
	running := "no"
	if h.Running {
		running = "yes"
	}
	fmt.Fprintf(w, "Full sync running: %s\n", running)

	if h.LastFullSync == nil {
		fmt.Fprintln(w, "Last full sync:    never")
	} else {
		last := h.LastFullSync
		fmt.Fprintf(w, "Last full sync:    %s at %s (%d processed, %d failed)\n",
			last.Status, formatTime(&last.FinishedAt), last.ItemsProcessed, last.ItemsFailed)
	}

	fmt.Fprintf(w, "Recent failures:   %d\n", h.RecentFailures)
	if len(h.RecentFailureLogs) > 0 {
		fmt.Fprintln(w)
		printLogTable(w, h.RecentFailureLogs)
	}
}
