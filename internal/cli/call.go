package cli

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/vrelay/internal/abi"
	"github.com/roach88/vrelay/internal/caller"
	"github.com/roach88/vrelay/internal/ir"
)

// CallOptions holds flags for the call command.
type CallOptions struct {
	*RootOptions
	Relay   string
	Backend string
}

// CallResult is the decoded outcome of a static call.
type CallResult struct {
	Target    ir.Handle `json:"target"`
	Signature string    `json:"signature"`
	Raw       string    `json:"raw"`   // 0x-prefixed hex of the N result bytes
	Value     string    `json:"value"` // decimal uint256
}

func (r CallResult) String() string {
	return r.Value
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call <signature>",
		Short: "Make a static call through a relay or directly to a backend",
		Long: `Call an operation the way a statically-typed caller does.

Through a relay, the result width comes from the relay's size registry;
directly, it comes from the backend's declared return type. The first
width bytes of the result are decoded as an unsigned integer.

Examples:
  vrelay call 'getUint()' --relay proxy
  vrelay call 'getUint()' --backend UpgradeableV2`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := opts.formatter(cmd)
			if (opts.Relay == "") == (opts.Backend == "") {
				return formatter.Fail("invalid target", fmt.Errorf("exactly one of --relay or --backend is required"))
			}

			w, err := openWorkspace(cmd.Context(), opts.RootOptions, formatter)
			if err != nil {
				return err
			}
			defer w.Close()

			target := w.Resolve(opts.Backend)
			if opts.Relay != "" {
				r, err := w.Relay(cmd.Context(), opts.Relay)
				if err != nil {
					return formatter.Fail("call failed", err)
				}
				target = r.Handle()
			}

			c, err := caller.New(w.Registry, target, caller.WithLogger(w.logger))
			if err != nil {
				return formatter.Fail("call failed", err)
			}
			raw, err := c.CallRaw(cmd.Context(), args[0])
			if err != nil {
				return formatter.Fail("call failed", err)
			}

			formatter.VerboseLog("%s returned %d bytes from %s", args[0], len(raw), target)
			return formatter.Success(CallResult{
				Target:    target,
				Signature: args[0],
				Raw:       "0x" + hex.EncodeToString(raw),
				Value:     abi.DecodeUint(raw).String(),
			})
		},
	}

	cmd.Flags().StringVar(&opts.Relay, "relay", "", "relay name to call through")
	cmd.Flags().StringVar(&opts.Backend, "backend", "", "backend to call directly (manifest name or handle)")

	return cmd
}
