package harness

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/stablecall/internal/host"
	"github.com/roach88/stablecall/internal/ir"
)

// AssertionContext is what assertions can look at besides the result.
type AssertionContext struct {
	Ctx     context.Context
	Host    *host.Host
	Modules map[string]ir.ModuleRef
	Proxies map[string]ir.Address
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Events   []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Events) > 0 {
		fmt.Fprintf(&buf, "\nAudit log:\n")
		for _, ev := range e.Events {
			fmt.Fprintf(&buf, "  [%d] %s %s %v\n", ev.Seq, ev.Proxy, ev.Kind, ev.Data)
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertState:
		return assertState(a, actx)
	case AssertOwner:
		return assertOwner(a, actx)
	case AssertImplementation:
		return assertImplementation(a, actx)
	case AssertEventCount:
		return assertEventCount(result, a, actx)
	case AssertEventOrder:
		return assertEventOrder(result, a, actx)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func inspect(a Assertion, actx *AssertionContext) (host.Inspection, error) {
	addr, ok := actx.Proxies[a.Proxy]
	if !ok {
		return host.Inspection{}, fmt.Errorf("unknown proxy label %q", a.Proxy)
	}
	return actx.Host.Inspect(actx.Ctx, addr)
}

// assertState checks decoded fields of a proxy (subset match).
func assertState(a Assertion, actx *AssertionContext) error {
	in, err := inspect(a, actx)
	if err != nil {
		return err
	}
	want, err := ir.ObjectFromAny(a.Expect)
	if err != nil {
		return fmt.Errorf("expect: %w", err)
	}

	for _, name := range want.SortedKeys() {
		got, ok := in.Fields[name]
		if !ok {
			return &AssertionError{
				Type:     AssertState,
				Expected: fmt.Sprintf("%s.%s = %v", a.Proxy, name, ir.ToAny(want[name])),
				Actual:   "field not in active layout",
			}
		}
		if !reflect.DeepEqual(ir.ToAny(want[name]), ir.ToAny(got)) {
			return &AssertionError{
				Type:     AssertState,
				Expected: fmt.Sprintf("%s.%s = %v", a.Proxy, name, ir.ToAny(want[name])),
				Actual:   fmt.Sprintf("%v", ir.ToAny(got)),
			}
		}
	}
	return nil
}

func assertOwner(a Assertion, actx *AssertionContext) error {
	in, err := inspect(a, actx)
	if err != nil {
		return err
	}
	if string(in.Owner) != a.Owner {
		return &AssertionError{
			Type:     AssertOwner,
			Expected: fmt.Sprintf("%s owned by %s", a.Proxy, a.Owner),
			Actual:   fmt.Sprintf("owned by %q", in.Owner),
		}
	}
	return nil
}

func assertImplementation(a Assertion, actx *AssertionContext) error {
	in, err := inspect(a, actx)
	if err != nil {
		return err
	}
	want, ok := actx.Modules[a.Module]
	if !ok {
		return fmt.Errorf("unknown module label %q", a.Module)
	}
	if in.Implementation != want {
		actual := string(in.Implementation)
		for label, ref := range actx.Modules {
			if ref == in.Implementation {
				actual = label
			}
		}
		return &AssertionError{
			Type:     AssertImplementation,
			Expected: fmt.Sprintf("%s runs %s", a.Proxy, a.Module),
			Actual:   fmt.Sprintf("runs %s", actual),
		}
	}
	return nil
}

// eventsFor filters the audit log to one proxy label, or returns all of
// it when the label is empty.
func eventsFor(result *Result, label string, actx *AssertionContext) ([]TraceEvent, error) {
	if label == "" {
		return result.Events, nil
	}
	addr, ok := actx.Proxies[label]
	if !ok {
		return nil, fmt.Errorf("unknown proxy label %q", label)
	}
	var out []TraceEvent
	for _, ev := range result.Events {
		if ev.Proxy == string(addr) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// assertEventCount checks the number of events of one kind.
func assertEventCount(result *Result, a Assertion, actx *AssertionContext) error {
	events, err := eventsFor(result, a.Proxy, actx)
	if err != nil {
		return err
	}
	count := 0
	for _, ev := range events {
		if ev.Kind == a.Kind {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d %s events", a.Count, a.Kind),
			Actual:   fmt.Sprintf("%d", count),
			Events:   events,
		}
	}
	return nil
}

// assertEventOrder checks that kinds appear in order. Other events may
// appear in between.
func assertEventOrder(result *Result, a Assertion, actx *AssertionContext) error {
	events, err := eventsFor(result, a.Proxy, actx)
	if err != nil {
		return err
	}
	next := 0
	for _, ev := range events {
		if next < len(a.Kinds) && ev.Kind == a.Kinds[next] {
			next++
		}
	}
	if next < len(a.Kinds) {
		return &AssertionError{
			Type:     AssertEventOrder,
			Expected: fmt.Sprintf("events in order: %v", a.Kinds),
			Actual:   fmt.Sprintf("missing %s after %v", a.Kinds[next], a.Kinds[:next]),
			Events:   events,
		}
	}
	return nil
}
