package harness

import (
	"fmt"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s -> %s\n", event.Seq, event.Op, event.Outcome)
	}

	return buf.String()
}

// matches reports whether event has op and, when outcome is set, that
// outcome.
func matches(event TraceEvent, op, outcome string) bool {
	return event.Op == op && (outcome == "" || event.Outcome == outcome)
}

func describe(op, outcome string) string {
	if outcome == "" {
		return op
	}
	return op + " -> " + outcome
}

// assertTraceContains checks that some step matches the op and outcome.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if matches(event, assertion.Op, assertion.Outcome) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describe(assertion.Op, assertion.Outcome),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrence of each op appears in
// the specified order. Ops need not be consecutive.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for _, event := range trace {
		if _, seen := positions[event.Op]; !seen {
			positions[event.Op] = event.Seq
		}
	}

	for _, op := range assertion.Ops {
		if _, ok := positions[op]; !ok {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all ops present: %v", assertion.Ops),
				Actual:   fmt.Sprintf("missing op: %s", op),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Ops); i++ {
		prev, curr := assertion.Ops[i-1], assertion.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("ops in order: %v", assertion.Ops),
				Actual: fmt.Sprintf("%s (seq %d) should be before %s (seq %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that exactly Count steps match.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if matches(event, assertion.Op, assertion.Outcome) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s exactly %d times", describe(assertion.Op, assertion.Outcome), assertion.Count),
			Actual:   fmt.Sprintf("found %d times", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState compares the expected fields (subset) with the vault
// state. Known keys: phase, has_key, policies.
func assertFinalState(state VaultState, trace []TraceEvent, assertion Assertion) error {
	actual := map[string]any{
		"phase":    state.Phase,
		"has_key":  state.HasKey,
		"policies": state.Policies,
	}

	keys := make([]string, 0, len(assertion.Expect))
	for k := range assertion.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mismatches []string
	for _, k := range keys {
		got, ok := actual[k]
		if !ok {
			return fmt.Errorf("final_state: unknown field %q", k)
		}
		if !stateValuesEqual(assertion.Expect[k], got) {
			mismatches = append(mismatches, fmt.Sprintf("%s: expected %v, got %v", k, assertion.Expect[k], got))
		}
	}

	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%v", assertion.Expect),
			Actual:   strings.Join(mismatches, "; "),
			Trace:    trace,
		}
	}
	return nil
}

// stateValuesEqual compares a YAML-decoded expected value with an actual
// state field.
func stateValuesEqual(expected, actual any) bool {
	switch exp := expected.(type) {
	case int:
		a, ok := actual.(int)
		return ok && exp == a
	case int64:
		a, ok := actual.(int)
		return ok && exp == int64(a)
	case uint64:
		a, ok := actual.(int)
		return ok && a >= 0 && exp == uint64(a)
	default:
		return expected == actual
	}
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result.State, result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
