package state

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/annosync/internal/ir"
)

// ValidationResult lists every violated invariant (errors) and every
// soft issue (warnings) found in a candidate payload.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// Valid reports whether the payload may be committed.
func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Validate checks a candidate payload.
//
// Errors:
//   - missing id, unrecognized type, non-positive number
//   - figure without content, heading without label
//   - duplicate ids
//   - per-type numbers that are not exactly 1..N
//
// Warnings:
//   - figure without caption or caption id
//   - negative document order
func Validate(payload []ir.Entry) ValidationResult {
	var r ValidationResult

	byType := map[ir.EntryType][]int{}
	seen := map[string]int{}
	var dups []string

	for i, e := range payload {
		prefix := fmt.Sprintf("entry[%d]", i)
		if e.ID != "" {
			prefix = fmt.Sprintf("entry[%d] %s", i, e.ID)
		}

		if e.ID == "" {
			r.Errors = append(r.Errors, prefix+": missing id")
		} else {
			seen[e.ID]++
			if seen[e.ID] == 2 {
				dups = append(dups, e.ID)
			}
		}

		switch e.Type {
		case ir.EntryImage, ir.EntryTable:
			if e.Content == "" {
				r.Errors = append(r.Errors, prefix+": missing content")
			}
			if strings.TrimSpace(e.Caption) == "" {
				r.Warnings = append(r.Warnings, prefix+": missing caption")
			}
			if e.CaptionID == "" {
				r.Warnings = append(r.Warnings, prefix+": missing caption id")
			}
		case ir.EntryHeading:
			if e.Label == "" {
				r.Errors = append(r.Errors, prefix+": missing label")
			}
		case "":
			r.Errors = append(r.Errors, prefix+": missing type")
		default:
			r.Errors = append(r.Errors, fmt.Sprintf("%s: unrecognized type %q", prefix, e.Type))
		}

		if e.Number <= 0 {
			r.Errors = append(r.Errors, fmt.Sprintf("%s: number must be positive, got %d", prefix, e.Number))
		} else if e.Type != "" {
			byType[e.Type] = append(byType[e.Type], e.Number)
		}

		if e.DomOrder < 0 {
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s: negative document order %d", prefix, e.DomOrder))
		}
	}

	if len(dups) > 0 {
		r.Errors = append(r.Errors, "duplicate id: "+strings.Join(dups, ", "))
	}

	types := make([]ir.EntryType, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	slices.Sort(types)
	for _, t := range types {
		r.Errors = append(r.Errors, checkSequence(t, byType[t])...)
	}

	return r
}

// checkSequence verifies that numbers, once sorted, are exactly 1..N.
func checkSequence(t ir.EntryType, numbers []int) []string {
	sorted := slices.Clone(numbers)
	slices.Sort(sorted)

	var errs []string
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			errs = append(errs, fmt.Sprintf("%s numbering has duplicate number %d", t, sorted[i]))
		}
	}
	if len(errs) > 0 {
		return errs
	}
	for i, n := range sorted {
		if n != i+1 {
			errs = append(errs, fmt.Sprintf("%s numbering not contiguous: expected %d, got %d", t, i+1, n))
			break
		}
	}
	return errs
}
