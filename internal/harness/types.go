package harness

// StepRecord is what one step submitted and what came back.
type StepRecord struct {
	Index  int    `json:"index"`
	Action string `json:"action"`
	By     string `json:"by"`
	Proxy  string `json:"proxy"`
	Module string `json:"module,omitempty"`
	Entry  string `json:"entry,omitempty"`
	Owner  string `json:"owner,omitempty"`
	Args   any    `json:"args,omitempty"`
	Result any    `json:"result,omitempty"`
	// Error is the error code of a failed step.
	Error string `json:"error,omitempty"`
}

// TraceEvent is an audit event with module references replaced by labels.
type TraceEvent struct {
	Seq   int64  `json:"seq"`
	Proxy string `json:"proxy"`
	Kind  string `json:"kind"`
	Data  any    `json:"data"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step met its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Steps records every step in order.
	Steps []StepRecord `json:"steps"`

	// Events is the audit log at the end of the run, ordered by seq.
	Events []TraceEvent `json:"events"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepRecord{},
		Events: []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
