package harness

import "github.com/roach88/annosync/internal/ir"

// TraceEvent records that the decorations of one scope on one document
// changed during a step.
type TraceEvent struct {
	Step        int             `json:"step"`
	Doc         ir.DocumentKey  `json:"doc"`
	Scope       ir.Scope        `json:"scope"`
	Decorations []ir.Decoration `json:"decorations"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step behaved as expected and every assertion held.
	Pass bool `json:"pass"`

	// Trace lists decoration changes in step order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Labels holds the final derived labels per document and scope.
	// Scopes without derived state are absent.
	Labels map[ir.DocumentKey]map[ir.Scope][]string `json:"labels,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Labels: make(map[ir.DocumentKey]map[ir.Scope][]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a decoration change.
func (r *Result) AddTrace(step int, doc ir.DocumentKey, scope ir.Scope, decorations []ir.Decoration) {
	r.Trace = append(r.Trace, TraceEvent{
		Step:        step,
		Doc:         doc,
		Scope:       scope,
		Decorations: decorations,
	})
}
