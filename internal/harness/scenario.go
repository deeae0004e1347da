package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario: steps run in order
// against a fresh host, then assertions check the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Manifests lists CUE manifest files (or directories) whose modules
	// become deployable by label. Paths are relative to the scenario file.
	Manifests []string `yaml:"manifests,omitempty"`

	// StrictLayout enables the append-only layout check on upgrades.
	StrictLayout bool `yaml:"strict_layout,omitempty"`

	// Steps run in order. A step without expect must succeed.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final frames and audit log.
	Assertions []Assertion `yaml:"assertions"`
}

// Step actions.
const (
	ActionDeploy            = "deploy"
	ActionCall              = "call"
	ActionUpgrade           = "upgrade"
	ActionTransferOwnership = "transfer_ownership"
)

// Step is one transaction submitted by an external caller.
type Step struct {
	// Action is one of deploy, call, upgrade or transfer_ownership.
	Action string `yaml:"action"`

	// By is the caller address.
	By string `yaml:"by"`

	// Proxy is the scenario label of the target proxy. A deploy step binds
	// the label to the new proxy's address.
	Proxy string `yaml:"proxy"`

	// Module is a module label (deploy, upgrade).
	Module string `yaml:"module,omitempty"`

	// Entry is the entry point to call (call).
	Entry string `yaml:"entry,omitempty"`

	// Owner is the new owner (transfer_ownership).
	Owner string `yaml:"owner,omitempty"`

	// Args are the call arguments, or the initializer arguments of a deploy.
	Args map[string]any `yaml:"args,omitempty"`

	// Expect checks the outcome. Nil means the step must succeed.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is the expected outcome of a step.
type Expect struct {
	// Error is the expected error code (e.g. UNAUTHORIZED). Empty means
	// the step must succeed.
	Error string `yaml:"error,omitempty"`

	// Result is the expected return value of a call. Nil skips the check.
	Result any `yaml:"result,omitempty"`
}

// Assertion validates the final state of a run.
type Assertion struct {
	// Type specifies the assertion type:
	// - "state": decoded fields of proxy match expect (subset match)
	// - "owner": proxy's owner equals owner
	// - "implementation": proxy's active module is module
	// - "event_count": events of kind (optionally for proxy) number count
	// - "event_order": kinds appear in this order (optionally for proxy)
	Type string `yaml:"type"`

	Proxy  string         `yaml:"proxy,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
	Owner  string         `yaml:"owner,omitempty"`
	Module string         `yaml:"module,omitempty"`
	Kind   string         `yaml:"kind,omitempty"`
	Count  int            `yaml:"count,omitempty"`
	Kinds  []string       `yaml:"kinds,omitempty"`
}

// Assertion type constants.
const (
	AssertState          = "state"
	AssertOwner          = "owner"
	AssertImplementation = "implementation"
	AssertEventCount     = "event_count"
	AssertEventOrder     = "event_order"
)

// LoadScenario reads and parses a scenario YAML file. Manifest paths are
// resolved relative to the file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// KnownFields catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i, m := range scenario.Manifests {
		if !filepath.IsAbs(m) {
			scenario.Manifests[i] = filepath.Join(base, m)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for _, m := range s.Manifests {
		if _, err := os.Stat(m); os.IsNotExist(err) {
			return fmt.Errorf("manifest not found: %s", m)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	if s.By == "" {
		return fmt.Errorf("steps[%d]: by is required", index)
	}
	if s.Proxy == "" {
		return fmt.Errorf("steps[%d]: proxy is required", index)
	}

	switch s.Action {
	case ActionDeploy, ActionUpgrade:
		if s.Module == "" {
			return fmt.Errorf("steps[%d]: module is required for %s", index, s.Action)
		}
	case ActionCall:
		if s.Entry == "" {
			return fmt.Errorf("steps[%d]: entry is required for call", index)
		}
	case ActionTransferOwnership:
		if s.Owner == "" {
			return fmt.Errorf("steps[%d]: owner is required for transfer_ownership", index)
		}
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, s.Action)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertState:
		if a.Proxy == "" || len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: proxy and expect are required for state", index)
		}
	case AssertOwner:
		if a.Proxy == "" || a.Owner == "" {
			return fmt.Errorf("assertions[%d]: proxy and owner are required for owner", index)
		}
	case AssertImplementation:
		if a.Proxy == "" || a.Module == "" {
			return fmt.Errorf("assertions[%d]: proxy and module are required for implementation", index)
		}
	case AssertEventCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertEventOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for event_order", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
