package harness

// OutcomeOK is the trace outcome of a step that returned no error.
const OutcomeOK = "OK"

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int    `json:"seq"`
	Op      string `json:"op"`
	Outcome string `json:"outcome"` // OutcomeOK or a model.Code

	// Input is the PSBT input a pre-flight error refers to.
	Input *int `json:"input,omitempty"`

	// Signatures is the number of partial signatures a sign step produced.
	Signatures int `json:"signatures,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every step matched its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace contains every executed step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the vault state after the last step.
	State VaultState `json:"state"`
}

// VaultState summarizes the vault after a scenario, for final_state
// assertions.
type VaultState struct {
	Phase    string `json:"phase"` // "unsealed", "sealed" or "wiped"
	HasKey   bool   `json:"has_key"`
	Policies int    `json:"policies"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addEvent appends ev to the trace with the next sequence number.
func (r *Result) addEvent(ev TraceEvent) TraceEvent {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
	return ev
}
