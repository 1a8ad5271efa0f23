package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/utafrali/catalogsync/internal/domain"
)

type waitFlags struct {
	wait     bool
	interval time.Duration
}

func (f *waitFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.wait, "wait", false, "block until the sync finishes")
	cmd.Flags().DurationVar(&f.interval, "poll-interval", 2*time.Second, "how often --wait polls the log")
}

func newFullCmd(rt *session) *cobra.Command {
	var wf waitFlags
	cmd := &cobra.Command{
		Use:   "full",
		Short: "Trigger a full catalog resync",
		Long: `Reconciles the whole search index with the catalog: every active
product is upserted and documents of removed or inactive products are deleted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := rt.client()
			log, err := c.TriggerFull(cmd.Context())
			if err != nil {
				return fmt.Errorf("trigger full sync: %w", err)
			}
			return rt.started(cmd, c, log, wf)
		},
	}
	wf.register(cmd)
	return cmd
}

func newItemCmd(rt *session) *cobra.Command {
	var wf waitFlags
	cmd := &cobra.Command{
		Use:   "item <product-id>",
		Short: "Resync a single product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := rt.client()
			log, err := c.TriggerItem(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("trigger item sync: %w", err)
			}
			return rt.started(cmd, c, log, wf)
		},
	}
	wf.register(cmd)
	return cmd
}

func (rt *session) started(cmd *cobra.Command, c *Client, log *domain.SyncLog, wf waitFlags) error {
	if !wf.wait {
		return rt.output(cmd, log, func(w io.Writer) {
			fmt.Fprintf(w, "Sync %s started (%s)\n", log.ID, log.Kind)
		})
	}

	if !rt.jsonOut {
		fmt.Fprintf(cmd.OutOrStdout(), "Sync %s started (%s), waiting...\n", log.ID, log.Kind)
	}
	done, err := c.WaitForLog(cmd.Context(), log.ID, wf.interval)
	if err != nil {
		return fmt.Errorf("wait for sync %s: %w", log.ID, err)
	}
	if err := rt.output(cmd, done, func(w io.Writer) { printLog(w, done) }); err != nil {
		return err
	}
	if done.Status == domain.StatusFailed {
		return fmt.Errorf("%w: %s", ErrSyncFailed, done.ID)
	}
	return nil
}
