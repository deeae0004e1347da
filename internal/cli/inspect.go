package cli

import (
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/stablecall/internal/frame"
	"github.com/roach88/stablecall/internal/ir"
	"github.com/roach88/stablecall/internal/proxy"
	"github.com/roach88/stablecall/internal/store"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <address>",
		Short: "Show a proxy's active module, owner, fields and raw slots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(rootOpts, cmd)
			h, err := openHost(cmd.Context(), rootOpts)
			if err != nil {
				return out.Fail("inspect", err)
			}
			defer h.Close()

			in, err := h.Inspect(cmd.Context(), ir.Address(args[0]))
			if err != nil {
				return out.Fail("inspect", err)
			}

			return out.Success(in, func(w io.Writer) {
				fmt.Fprintf(w, "address:        %s\n", in.Address)
				if in.Module != nil {
					fmt.Fprintf(w, "implementation: %s (%s v%d, %s)\n", in.Implementation, in.Module.Name, in.Module.Version, in.Module.Runtime)
				} else {
					fmt.Fprintf(w, "implementation: %s (not deployed)\n", in.Implementation)
				}
				fmt.Fprintf(w, "owner:          %s\n", in.Owner)
				fmt.Fprintf(w, "initialized:    %t\n", in.Initialized)

				if in.Module != nil && len(in.Module.Layout) > 0 {
					fmt.Fprintln(w, "fields:")
					for i, f := range in.Module.Layout {
						data, _ := ir.MarshalValue(in.Fields[f.Name])
						fmt.Fprintf(w, "  [%d] %s %s = %s\n", frame.FieldBase+uint64(i), f.Name, f.Type, data)
					}
				}

				slots := make([]uint64, 0, len(in.Slots))
				for s := range in.Slots {
					slots = append(slots, s)
				}
				sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
				fmt.Fprintln(w, "slots:")
				for _, s := range slots {
					fmt.Fprintf(w, "  %d: %s\n", s, hex.EncodeToString(in.Slots[s]))
				}
			})
		},
	}
}

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	Kind  string
	After int64
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events [address]",
		Short: "List audit events, optionally for one proxy",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(rootOpts, cmd)
			s, err := store.Open(rootOpts.DB)
			if err != nil {
				return out.Fail("events", WrapExitError(ExitCommandError, "open database", err))
			}
			defer s.Close()

			filter := store.EventFilter{Kind: ir.EventKind(opts.Kind), AfterSeq: opts.After}
			if len(args) == 1 {
				filter.Proxy = ir.Address(args[0])
				exists, err := s.ProxyExists(cmd.Context(), filter.Proxy)
				if err != nil {
					return out.Fail("events", err)
				}
				if !exists {
					return out.Fail("events", fmt.Errorf("proxy %s: %w", filter.Proxy, proxy.ErrProxyNotFound))
				}
			}

			events, err := s.Events(cmd.Context(), filter)
			if err != nil {
				return out.Fail("events", err)
			}
			return out.Success(events, func(w io.Writer) {
				for _, ev := range events {
					data, _ := ir.MarshalValue(ev.Data)
					fmt.Fprintf(w, "%s %s %s %s\n", strconv.FormatInt(ev.Seq, 10), ev.Proxy, ev.Kind, data)
				}
			})
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only events of this kind")
	cmd.Flags().Int64Var(&opts.After, "after", 0, "only events with seq greater than this")
	return cmd
}
