package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/stablecall/internal/host"
	"github.com/roach88/stablecall/internal/ir"
)

// CallerOptions holds the flags of commands submitted on behalf of a caller.
type CallerOptions struct {
	*RootOptions
	As   string
	Args string
}

func (o *CallerOptions) bind(cmd *cobra.Command, withArgs bool) {
	cmd.Flags().StringVar(&o.As, "as", "", "caller address (required)")
	_ = cmd.MarkFlagRequired("as")
	if withArgs {
		cmd.Flags().StringVar(&o.Args, "args", "{}", "arguments as a JSON object")
	}
}

// openHost opens the host on the configured database.
func openHost(ctx context.Context, opts *RootOptions) (*host.Host, error) {
	h, err := host.Open(ctx, opts.DB, host.WithLayoutCheck(opts.StrictLayout))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open database", err)
	}
	return h, nil
}

// parseArgs decodes a JSON object of call arguments.
func parseArgs(raw string) (ir.Object, error) {
	if raw == "" {
		return ir.Object{}, nil
	}
	var obj ir.Object
	if err := obj.UnmarshalJSON([]byte(raw)); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid --args JSON", err)
	}
	return obj, nil
}

// NewDeployProxyCommand creates the deploy-proxy command.
func NewDeployProxyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deploy-proxy <module-ref>",
		Short: "Deploy a proxy over a deployed module",
		Long: `Deploy a proxy at a fresh address, point it at a deployed module and,
if the module declares initialize, run it with --args on behalf of --as.

Example:
  stablecall deploy-proxy 3f2a... --as alice --args '{"value":7}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(rootOpts, cmd)
			initArgs, err := parseArgs(opts.Args)
			if err != nil {
				return out.Fail("deploy-proxy", err)
			}
			h, err := openHost(cmd.Context(), rootOpts)
			if err != nil {
				return out.Fail("deploy-proxy", err)
			}
			defer h.Close()

			addr, err := h.DeployProxy(cmd.Context(), ir.Address(opts.As), ir.ModuleRef(args[0]), initArgs)
			if err != nil {
				return out.Fail("deploy-proxy", err)
			}
			return out.Success(map[string]any{"address": addr}, func(w io.Writer) {
				fmt.Fprintln(w, addr)
			})
		},
	}
	opts.bind(cmd, true)
	return cmd
}

// NewCallCommand creates the call command.
func NewCallCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "call <address> <entry>",
		Short: "Forward a call to a proxy's active module",
		Long: `Submit one call to a proxy. upgradeTo and transferOwnership are handled
by the proxy itself; every other entry point runs in the active module.

Example:
  stablecall call 0190... setValue --as bob --args '{"value":42}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(rootOpts, cmd)
			callArgs, err := parseArgs(opts.Args)
			if err != nil {
				return out.Fail("call", err)
			}
			h, err := openHost(cmd.Context(), rootOpts)
			if err != nil {
				return out.Fail("call", err)
			}
			defer h.Close()

			p, err := h.Proxy(cmd.Context(), ir.Address(args[0]))
			if err != nil {
				return out.Fail("call", err)
			}
			result, err := p.Call(cmd.Context(), ir.Address(opts.As), ir.Call{Entry: args[1], Args: callArgs})
			if err != nil {
				return out.Fail("call "+args[1], err)
			}
			if result == nil {
				result = ir.Null{}
			}
			return out.Success(map[string]any{"result": result}, func(w io.Writer) {
				data, _ := ir.MarshalValue(result)
				fmt.Fprintln(w, string(data))
			})
		},
	}
	opts.bind(cmd, true)
	return cmd
}

// NewUpgradeCommand creates the upgrade command.
func NewUpgradeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "upgrade <address> <module-ref>",
		Short: "Point a proxy at another deployed module",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(rootOpts, cmd)
			h, err := openHost(cmd.Context(), rootOpts)
			if err != nil {
				return out.Fail("upgrade", err)
			}
			defer h.Close()

			p, err := h.Proxy(cmd.Context(), ir.Address(args[0]))
			if err != nil {
				return out.Fail("upgrade", err)
			}
			ref := ir.ModuleRef(args[1])
			if err := p.UpgradeTo(cmd.Context(), ir.Address(opts.As), ref); err != nil {
				return out.Fail("upgrade", err)
			}
			return out.Success(map[string]any{"address": args[0], "implementation": ref}, func(w io.Writer) {
				fmt.Fprintf(w, "%s now runs %s\n", args[0], ref)
			})
		},
	}
	opts.bind(cmd, false)
	return cmd
}

// NewTransferOwnershipCommand creates the transfer-ownership command.
func NewTransferOwnershipCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CallerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "transfer-ownership <address> <new-owner>",
		Short: "Hand a proxy's upgrade authority to a new owner",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(rootOpts, cmd)
			h, err := openHost(cmd.Context(), rootOpts)
			if err != nil {
				return out.Fail("transfer-ownership", err)
			}
			defer h.Close()

			p, err := h.Proxy(cmd.Context(), ir.Address(args[0]))
			if err != nil {
				return out.Fail("transfer-ownership", err)
			}
			if err := p.TransferOwnership(cmd.Context(), ir.Address(opts.As), ir.Address(args[1])); err != nil {
				return out.Fail("transfer-ownership", err)
			}
			return out.Success(map[string]any{"address": args[0], "owner": args[1]}, func(w io.Writer) {
				fmt.Fprintf(w, "%s is now owned by %s\n", args[0], args[1])
			})
		},
	}
	opts.bind(cmd, false)
	return cmd
}
