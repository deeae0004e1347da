package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/stablecall/internal/ir"
)

// TraceSnapshot is the golden form of a run: every step and the full
// audit log, serialized as canonical JSON.
type TraceSnapshot struct {
	ScenarioName string
	Steps        []StepRecord
	Events       []TraceEvent
}

// toCanonicalMap converts the snapshot to plain data that
// ir.MarshalCanonical accepts.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	steps := make([]any, len(s.Steps))
	for i, st := range s.Steps {
		m := map[string]any{
			"index":  st.Index,
			"action": st.Action,
			"by":     st.By,
			"proxy":  st.Proxy,
		}
		optional := map[string]string{
			"module": st.Module,
			"entry":  st.Entry,
			"owner":  st.Owner,
			"error":  st.Error,
		}
		for k, v := range optional {
			if v != "" {
				m[k] = v
			}
		}
		if st.Args != nil {
			m["args"] = st.Args
		}
		if st.Result != nil {
			m["result"] = st.Result
		}
		steps[i] = m
	}

	events := make([]any, len(s.Events))
	for i, ev := range s.Events {
		events[i] = map[string]any{
			"seq":   ev.Seq,
			"proxy": ev.Proxy,
			"kind":  ev.Kind,
			"data":  ev.Data,
		}
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"steps":         steps,
		"events":        events,
	}
}

// MarshalSnapshot renders a result as canonical JSON.
func MarshalSnapshot(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: name,
		Steps:        result.Steps,
		Events:       result.Events,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
