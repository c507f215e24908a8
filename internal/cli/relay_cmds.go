package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/vrelay/internal/ir"
	"github.com/roach88/vrelay/internal/relay"
)

// StateView is the printable state of a relay.
type StateView struct {
	Name        string         `json:"name"`
	Handle      ir.Handle      `json:"handle"`
	Backend     ir.Handle      `json:"backend"`
	BackendName string         `json:"backend_name,omitempty"`
	Version     int64          `json:"version"`
	Sizes       []ir.SizeEntry `json:"sizes"`
}

func (v StateView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "relay %s (%s)\n", v.Name, v.Handle)
	backend := string(v.Backend)
	if v.BackendName != "" {
		backend = fmt.Sprintf("%s (%s)", v.BackendName, v.Backend)
	}
	fmt.Fprintf(&b, "  backend: %s\n", backend)
	fmt.Fprintf(&b, "  version: %d\n", v.Version)
	if len(v.Sizes) == 0 {
		b.WriteString("  sizes:   none registered")
		return b.String()
	}
	b.WriteString("  sizes:")
	for _, e := range v.Sizes {
		fmt.Fprintf(&b, "\n    %s %s %d", e.Selector, e.Signature, e.Size)
	}
	return b.String()
}

func stateView(w *Workspace, name string, r *relay.Relay) StateView {
	s := r.State()
	return StateView{
		Name:        name,
		Handle:      s.Relay,
		Backend:     s.Backend,
		BackendName: w.Name(s.Backend),
		Version:     s.Version,
		Sizes:       r.Sizes(),
	}
}

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	Backend string
	Version int64
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init <relay>",
		Short: "Create a relay in front of a backend",
		Long: `Create a named relay whose initial backend is --backend.

The backend is a manifest name, another relay's name, or a raw handle.
The creation is journaled as the relay's first version change.

Example:
  vrelay init proxy --backend UpgradeableV1 --version 1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := opts.formatter(cmd)
			w, err := openWorkspace(cmd.Context(), opts.RootOptions, formatter)
			if err != nil {
				return err
			}
			defer w.Close()

			r, err := w.InitRelay(cmd.Context(), args[0], opts.Backend, opts.Version)
			if err != nil {
				return formatter.Fail("init failed", err)
			}
			return formatter.Success(stateView(w, args[0], r))
		},
	}

	cmd.Flags().StringVar(&opts.Backend, "backend", "", "initial backend (manifest name, relay name or handle)")
	cmd.Flags().Int64Var(&opts.Version, "version", relay.DefaultVersion, "initial version label")
	_ = cmd.MarkFlagRequired("backend")

	return cmd
}

// NewRegisterSizeCommand creates the register-size command.
func NewRegisterSizeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "register-size <relay> <signature> <size>",
		Short: "Register the result width of a relayed operation",
		Long: `Register how many result bytes static callers of a relay should
expect for an operation. Re-registering a signature overwrites it.

Example:
  vrelay register-size proxy 'getUint()' 32`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			size, err := strconv.Atoi(args[2])
			if err != nil {
				return formatter.Fail("invalid size", fmt.Errorf("size %q: %w", args[2], err))
			}

			w, err := openWorkspace(cmd.Context(), rootOpts, formatter)
			if err != nil {
				return err
			}
			defer w.Close()

			r, err := w.Relay(cmd.Context(), args[0])
			if err != nil {
				return formatter.Fail("register-size failed", err)
			}
			if err := r.RegisterExpectedSize(cmd.Context(), args[1], size); err != nil {
				return formatter.Fail("register-size failed", err)
			}
			return formatter.Success(stateView(w, args[0], r))
		},
	}
	return cmd
}

// NewUpgradeCommand creates the upgrade command.
func NewUpgradeCommand(rootOpts *RootOptions) *cobra.Command {
	return newSwapCommand(rootOpts, ir.ChangeUpgrade, `Point a relay at a new backend.

Every static caller of the relay observes the new backend from the next
call on. The version label is stored as given.

Example:
  vrelay upgrade proxy 2 UpgradeableV2`)
}

// NewRollbackCommand creates the rollback command.
func NewRollbackCommand(rootOpts *RootOptions) *cobra.Command {
	return newSwapCommand(rootOpts, ir.ChangeRollback, `Point a relay back at an earlier backend.

A rollback is the same swap as an upgrade, journaled under its own kind.
The version may be lower than the current one.

Example:
  vrelay rollback proxy 1 UpgradeableV1`)
}

func newSwapCommand(rootOpts *RootOptions, kind ir.ChangeKind, long string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           fmt.Sprintf("%s <relay> <version> <backend>", kind),
		Short:         fmt.Sprintf("%s a relay to another backend", strings.ToUpper(string(kind[:1]))+string(kind[1:])),
		Long:          long,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			version, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return formatter.Fail("invalid version", fmt.Errorf("version %q: %w", args[1], err))
			}

			w, err := openWorkspace(cmd.Context(), rootOpts, formatter)
			if err != nil {
				return err
			}
			defer w.Close()

			r, err := w.Relay(cmd.Context(), args[0])
			if err != nil {
				return formatter.Fail(fmt.Sprintf("%s failed", kind), err)
			}

			swap := r.Upgrade
			if kind == ir.ChangeRollback {
				swap = r.Rollback
			}
			if err := swap(cmd.Context(), version, w.Resolve(args[2])); err != nil {
				return formatter.Fail(fmt.Sprintf("%s failed", kind), err)
			}
			return formatter.Success(stateView(w, args[0], r))
		},
	}
	return cmd
}
