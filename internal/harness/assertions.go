package harness

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/vrelay/internal/ir"
	"github.com/roach88/vrelay/internal/relay"
	"github.com/roach88/vrelay/internal/store"
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

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %v -> %s\n", event.Seq, event.Op, event.Args, event.Outcome)
		}
	}

	return buf.String()
}

// assertTraceCount checks that an op appears exactly Count times,
// optionally restricted to one outcome.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Op != assertion.Op {
			continue
		}
		if assertion.Outcome != "" && event.Outcome != assertion.Outcome {
			continue
		}
		count++
	}

	if count != assertion.Count {
		what := assertion.Op
		if assertion.Outcome != "" {
			what += " with outcome " + assertion.Outcome
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, what),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertTraceOrder checks that ops first appear in the specified order.
// Ops don't need to be consecutive (intervening steps are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if positions[event.Op] == 0 {
			positions[event.Op] = i + 1 // 1-indexed for readability
		}
	}

	for _, op := range assertion.Ops {
		if positions[op] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all ops present: %v", assertion.Ops),
				Actual:   fmt.Sprintf("missing op: %s", op),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Ops); i++ {
		prev := assertion.Ops[i-1]
		curr := assertion.Ops[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("ops in order: %v", assertion.Ops),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceContains checks that a step with the given op and args
// (subset match) was executed.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if event.Op == assertion.Op && matchArgs(event.Args, assertion.Args) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("op %s with args %v", assertion.Op, assertion.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertRelayState checks a relay's current backend and version.
func assertRelayState(actx *AssertionContext, assertion Assertion) error {
	r, ok := actx.Relays[assertion.Relay]
	if !ok {
		return fmt.Errorf("relay_state: unknown relay %q", assertion.Relay)
	}
	state := r.State()

	if assertion.Backend != "" {
		want := resolveRef(actx.Handles, assertion.Backend)
		if state.Backend != want {
			return &AssertionError{
				Type:     AssertRelayState,
				Expected: fmt.Sprintf("relay %s backend %s (%s)", assertion.Relay, assertion.Backend, want),
				Actual:   fmt.Sprintf("backend %s (%s)", aliasOf(actx.Handles, state.Backend), state.Backend),
			}
		}
	}

	if assertion.Version != nil && state.Version != *assertion.Version {
		return &AssertionError{
			Type:     AssertRelayState,
			Expected: fmt.Sprintf("relay %s version %d", assertion.Relay, *assertion.Version),
			Actual:   fmt.Sprintf("version %d", state.Version),
		}
	}

	return nil
}

// assertJournalCount checks how many version changes were journaled for a
// relay, optionally filtered by kind.
func assertJournalCount(actx *AssertionContext, assertion Assertion) error {
	r, ok := actx.Relays[assertion.Relay]
	if !ok {
		return fmt.Errorf("journal_count: unknown relay %q", assertion.Relay)
	}

	changes, err := actx.Store.VersionChanges(actx.Ctx, r.Handle())
	if err != nil {
		return fmt.Errorf("journal_count: %w", err)
	}

	count := 0
	for _, c := range changes {
		if assertion.Kind == "" || c.Kind == ir.ChangeKind(assertion.Kind) {
			count++
		}
	}

	if count != assertion.Count {
		what := "version changes"
		if assertion.Kind != "" {
			what = assertion.Kind + " changes"
		}
		return &AssertionError{
			Type:     AssertJournalCount,
			Expected: fmt.Sprintf("%d %s journaled for %s", assertion.Count, what, assertion.Relay),
			Actual:   fmt.Sprintf("%d", count),
		}
	}
	return nil
}

// aliasOf returns the alias bound to handle, or the handle itself.
func aliasOf(handles map[string]ir.Handle, h ir.Handle) string {
	for alias, bound := range handles {
		if bound == h {
			return alias
		}
	}
	return string(h)
}

// matchArgs checks if actual args contain all expected args (subset match).
// Extra keys in actual are ignored.
func matchArgs(actual map[string]any, expected map[string]interface{}) bool {
	for key, expectedVal := range expected {
		actualVal, exists := actual[key]
		if !exists {
			return false
		}
		if !valuesEqual(actualVal, expectedVal) {
			return false
		}
	}
	return true
}

// valuesEqual compares a trace arg with a YAML-decoded expected value.
// YAML decodes integers as int while trace args hold int64.
func valuesEqual(actual, expected interface{}) bool {
	if n, ok := expected.(int); ok {
		expected = int64(n)
	}
	return reflect.DeepEqual(actual, expected)
}

// AssertionContext provides state access for evaluating assertions.
type AssertionContext struct {
	Ctx     context.Context
	Store   *store.Store
	Relays  map[string]*relay.Relay
	Handles map[string]ir.Handle
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides relay and journal access for state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertRelayState:
			if actx == nil {
				err = fmt.Errorf("assertion[%d]: relay_state requires relay context", i)
			} else {
				err = assertRelayState(actx, assertion)
			}
		case AssertJournalCount:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: journal_count requires database context", i)
			} else {
				err = assertJournalCount(actx, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
