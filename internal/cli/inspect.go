package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/vrelay/internal/ir"
)

// NewStateCommand creates the state command.
func NewStateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "state <relay>",
		Short:         "Show a relay's current backend, version and sizes",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			w, err := openWorkspace(cmd.Context(), rootOpts, formatter)
			if err != nil {
				return err
			}
			defer w.Close()

			r, err := w.Relay(cmd.Context(), args[0])
			if err != nil {
				return formatter.Fail("state failed", err)
			}
			return formatter.Success(stateView(w, args[0], r))
		},
	}
	return cmd
}

// HistoryView is a relay's journaled version changes, oldest first.
type HistoryView struct {
	Relay   string             `json:"relay"`
	Changes []ir.VersionChange `json:"changes"`
}

func (v HistoryView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "history of %s (%d changes)", v.Relay, len(v.Changes))
	for _, c := range v.Changes {
		fmt.Fprintf(&b, "\n  [%d] %-8s v%d %s", c.Seq, c.Kind, c.Version, c.Backend)
		if c.Kind != ir.ChangeInit {
			fmt.Fprintf(&b, " (was v%d %s)", c.PreviousVersion, c.PreviousBackend)
		}
	}
	return b.String()
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "history <relay>",
		Short:         "Show a relay's journaled upgrades and rollbacks",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			w, err := openWorkspace(cmd.Context(), rootOpts, formatter)
			if err != nil {
				return err
			}
			defer w.Close()

			rec, err := w.Store.LoadRelay(cmd.Context(), args[0])
			if err != nil {
				return formatter.Fail("history failed", err)
			}
			changes, err := w.Store.VersionChanges(cmd.Context(), rec.Handle)
			if err != nil {
				return formatter.Fail("history failed", err)
			}
			return formatter.Success(HistoryView{Relay: args[0], Changes: changes})
		},
	}
	return cmd
}
