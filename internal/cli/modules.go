package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/stablecall/internal/ir"
	"github.com/roach88/stablecall/internal/manifest"
	"github.com/roach88/stablecall/internal/module"
	"github.com/roach88/stablecall/internal/store"
)

// DeployedModule is one line of deploy-module output.
type DeployedModule struct {
	Label   string       `json:"label"`
	Ref     ir.ModuleRef `json:"ref"`
	Name    string       `json:"name"`
	Version int64        `json:"version"`
	Runtime ir.Runtime   `json:"runtime"`
}

// DeployModuleOptions holds flags for the deploy-module command.
type DeployModuleOptions struct {
	*RootOptions
	Only []string
}

// NewDeployModuleCommand creates the deploy-module command.
func NewDeployModuleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeployModuleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deploy-module <manifest>",
		Short: "Compile a CUE manifest and deploy its modules",
		Long: `Compile a CUE manifest (a .cue file or a directory holding one CUE
package) and deploy every module it declares. Deploying a module that is
already deployed is a no-op that returns the same reference.

Examples:
  stablecall deploy-module ./modules
  stablecall deploy-module ./modules/counter.cue --only counter_v2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(rootOpts, cmd)
			entries, err := manifest.Load(args[0])
			if err != nil {
				return out.Fail("compile manifest", err)
			}
			entries, err = selectEntries(entries, opts.Only)
			if err != nil {
				return out.Fail("deploy-module", err)
			}

			h, err := openHost(cmd.Context(), rootOpts)
			if err != nil {
				return out.Fail("deploy-module", err)
			}
			defer h.Close()

			deployed := make([]DeployedModule, 0, len(entries))
			for _, e := range entries {
				ref, err := h.DeployModule(cmd.Context(), e.Spec)
				if err != nil {
					return out.Fail("deploy module "+e.Label, err)
				}
				deployed = append(deployed, DeployedModule{
					Label:   e.Label,
					Ref:     ref,
					Name:    e.Spec.Name,
					Version: e.Spec.Version,
					Runtime: e.Spec.Runtime,
				})
			}

			return out.Success(deployed, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "LABEL\tNAME\tVERSION\tRUNTIME\tREF")
				for _, d := range deployed {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", d.Label, d.Name, d.Version, d.Runtime, d.Ref)
				}
				tw.Flush()
			})
		},
	}

	cmd.Flags().StringSliceVar(&opts.Only, "only", nil, "deploy only these labels")
	return cmd
}

func selectEntries(entries []manifest.Entry, only []string) ([]manifest.Entry, error) {
	if len(only) == 0 {
		return entries, nil
	}
	byLabel := make(map[string]manifest.Entry, len(entries))
	for _, e := range entries {
		byLabel[e.Label] = e
	}
	selected := make([]manifest.Entry, 0, len(only))
	for _, label := range only {
		e, ok := byLabel[label]
		if !ok {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("manifest declares no module %q", label))
		}
		selected = append(selected, e)
	}
	return selected, nil
}

// LayoutOptions holds flags for the layout command.
type LayoutOptions struct {
	*RootOptions
	Manifest string
}

// LayoutReport is the output of the layout command.
type LayoutReport struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Compatible bool   `json:"compatible"`
	Reason     string `json:"reason,omitempty"`
}

// NewLayoutCommand creates the layout command.
func NewLayoutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LayoutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "layout <from> <to>",
		Short: "Check that upgrading from one module to another keeps the storage layout",
		Long: `Report whether <to>'s field layout is an append-only extension of
<from>'s. <from> and <to> are deployed module references, or labels in
--manifest.

Exit codes:
  0 - layouts are compatible
  1 - layouts are incompatible
  2 - command error`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(rootOpts, cmd)
			from, to, err := resolveLayoutPair(cmd, opts, args[0], args[1])
			if err != nil {
				return out.Fail("layout", err)
			}

			report := LayoutReport{From: args[0], To: args[1], Compatible: true}
			if err := module.CheckLayout(from.Layout, to.Layout); err != nil {
				if !errors.Is(err, module.ErrIncompatibleLayout) {
					return out.Fail("layout", err)
				}
				report.Compatible = false
				report.Reason = err.Error()
			}

			if err := out.Success(report, func(w io.Writer) {
				if report.Compatible {
					fmt.Fprintf(w, "compatible: %s extends %s\n", args[1], args[0])
					return
				}
				fmt.Fprintf(w, "incompatible: %s\n", report.Reason)
			}); err != nil {
				return err
			}
			if !report.Compatible {
				return NewExitError(ExitFailure, "layouts are incompatible")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Manifest, "manifest", "", "resolve <from> and <to> as labels in this manifest")
	return cmd
}

func resolveLayoutPair(cmd *cobra.Command, opts *LayoutOptions, from, to string) (ir.ModuleSpec, ir.ModuleSpec, error) {
	if opts.Manifest != "" {
		entries, err := manifest.Load(opts.Manifest)
		if err != nil {
			return ir.ModuleSpec{}, ir.ModuleSpec{}, err
		}
		byLabel := make(map[string]ir.ModuleSpec, len(entries))
		for _, e := range entries {
			byLabel[e.Label] = e.Spec
		}
		a, okA := byLabel[from]
		b, okB := byLabel[to]
		if !okA || !okB {
			return ir.ModuleSpec{}, ir.ModuleSpec{}, NewExitError(ExitCommandError,
				fmt.Sprintf("manifest %s must declare both %q and %q", opts.Manifest, from, to))
		}
		return a, b, nil
	}

	s, err := store.Open(opts.DB)
	if err != nil {
		return ir.ModuleSpec{}, ir.ModuleSpec{}, WrapExitError(ExitCommandError, "open database", err)
	}
	defer s.Close()

	a, err := s.Module(cmd.Context(), ir.ModuleRef(from))
	if err != nil {
		return ir.ModuleSpec{}, ir.ModuleSpec{}, fmt.Errorf("module %s: %w", from, err)
	}
	b, err := s.Module(cmd.Context(), ir.ModuleRef(to))
	if err != nil {
		return ir.ModuleSpec{}, ir.ModuleSpec{}, fmt.Errorf("module %s: %w", to, err)
	}
	return a, b, nil
}
