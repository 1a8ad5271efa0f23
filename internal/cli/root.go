// Package cli implements syncctl, the operator CLI for the sync service.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	pkgconfig "github.com/utafrali/catalogsync/pkg/config"
)

// ErrSyncFailed is returned by --wait when the job finished as failed.
var ErrSyncFailed = errors.New("sync failed")

// Options holds connection settings. Defaults come from SYNCCTL_*
// environment variables and can be overridden by flags.
type Options struct {
	Server  string        `env:"SERVER" envDefault:"http://localhost:8012"`
	Token   string        `env:"TOKEN"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

// LoadOptions reads SYNCCTL_SERVER, SYNCCTL_TOKEN and SYNCCTL_TIMEOUT.
func LoadOptions() (Options, error) {
	var opts Options
	if err := pkgconfig.LoadWithPrefix(&opts, "SYNCCTL_"); err != nil {
		return Options{}, fmt.Errorf("load syncctl config: %w", err)
	}
	return opts, nil
}

type session struct {
	opts    Options
	jsonOut bool
}

func (rt *session) client() *Client {
	return NewClient(rt.opts.Server, rt.opts.Token, rt.opts.Timeout)
}

// output prints v as JSON with --json, otherwise through text.
func (rt *session) output(cmd *cobra.Command, v any, text func(io.Writer)) error {
	w := cmd.OutOrStdout()
	if rt.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

// NewRootCommand builds the syncctl command tree.
func NewRootCommand(opts Options) *cobra.Command {
	rt := &session{opts: opts}

	root := &cobra.Command{
		Use:   "syncctl",
		Short: "Operate the catalog search sync service",
		Long: `syncctl triggers full and single-product resyncs of the search index
and inspects sync status and history through the service's admin API.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&rt.opts.Server, "server", opts.Server, "sync service base URL")
	flags.StringVar(&rt.opts.Token, "token", opts.Token, "admin bearer token")
	flags.DurationVar(&rt.opts.Timeout, "timeout", opts.Timeout, "per-request timeout")
	flags.BoolVar(&rt.jsonOut, "json", false, "print JSON instead of text")

	root.AddCommand(
		newFullCmd(rt),
		newItemCmd(rt),
		newStatusCmd(rt),
		newLogsCmd(rt),
		newLogCmd(rt),
	)
	return root
}
