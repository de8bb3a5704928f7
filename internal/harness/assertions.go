package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/annosync/internal/ir"
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
	for i, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] step %d %s/%s %s\n", i+1, event.Step, event.Doc, event.Scope, describe(event.Decorations))
	}

	return buf.String()
}

func describe(decos []ir.Decoration) string {
	parts := make([]string, 0, len(decos))
	for _, d := range decos {
		parts = append(parts, fmt.Sprintf("%s=%q", d.BlockID, d.Label))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func (h *Harness) check(ctx context.Context, a Assertion, result *Result) error {
	key := ir.DocumentKey(a.Doc)
	switch a.Type {
	case AssertLabels:
		return assertLabels(result, key, a)
	case AssertAppliedCount:
		return assertAppliedCount(result, key, a)
	case AssertCleared:
		return h.assertCleared(ctx, result, key, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertLabels compares the final derived labels. An empty expectation
// also matches a scope without derived state.
func assertLabels(result *Result, key ir.DocumentKey, a Assertion) error {
	got, ok := result.Labels[key][a.Scope]
	if !ok && len(a.Labels) > 0 {
		return &AssertionError{
			Type:     AssertLabels,
			Expected: fmt.Sprintf("%s/%s labels %q", key, a.Scope, a.Labels),
			Actual:   "no derived state",
			Trace:    result.Trace,
		}
	}
	if len(got) == 0 && len(a.Labels) == 0 {
		return nil
	}
	if !slices.Equal(got, a.Labels) {
		return &AssertionError{
			Type:     AssertLabels,
			Expected: fmt.Sprintf("%s/%s labels %q", key, a.Scope, a.Labels),
			Actual:   fmt.Sprintf("%q", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertAppliedCount counts trace events for one document and scope.
func assertAppliedCount(result *Result, key ir.DocumentKey, a Assertion) error {
	count := 0
	for _, ev := range result.Trace {
		if ev.Doc == key && ev.Scope == a.Scope {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertAppliedCount,
			Expected: fmt.Sprintf("%s/%s changed %d times", key, a.Scope, a.Count),
			Actual:   fmt.Sprintf("changed %d times", count),
			Trace:    result.Trace,
		}
	}
	return nil
}

func (h *Harness) assertCleared(ctx context.Context, result *Result, key ir.DocumentKey, a Assertion) error {
	if _, ok := h.engine.State(a.Scope, key); ok {
		return &AssertionError{
			Type:     AssertCleared,
			Expected: fmt.Sprintf("%s/%s without derived state", key, a.Scope),
			Actual:   "derived state present",
			Trace:    result.Trace,
		}
	}
	decos, err := h.blocks.Decorations(ctx, key, a.Scope)
	if err != nil {
		return err
	}
	if len(decos) > 0 {
		return &AssertionError{
			Type:     AssertCleared,
			Expected: fmt.Sprintf("%s/%s without decorations", key, a.Scope),
			Actual:   describe(decos),
			Trace:    result.Trace,
		}
	}
	return nil
}
