package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/annosync/internal/ir"
)

// Scenario defines a document-editing scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is decoded over the default configuration before the engine
	// starts. Same shape as a YAML config file.
	Config *yaml.Node `yaml:"config,omitempty"`

	// Documents seed the block store. Only documents listed here appear
	// in the trace.
	Documents []Document `yaml:"documents"`

	// Steps run in order; each is settled before the next.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state and the trace.
	Assertions []Assertion `yaml:"assertions"`
}

// Document is one seeded document.
type Document struct {
	ID     string  `yaml:"id"`
	Blocks []Block `yaml:"blocks"`
}

// Block is one seeded block. Type defaults to a paragraph.
type Block struct {
	ID       string  `yaml:"id"`
	Type     string  `yaml:"type,omitempty"`
	Subtype  string  `yaml:"subtype,omitempty"`
	Layout   string  `yaml:"layout,omitempty"`
	Content  string  `yaml:"content,omitempty"`
	Children []Block `yaml:"children,omitempty"`
}

// Step is one scenario action. Exactly one of the action fields is set.
type Step struct {
	Open    string           `yaml:"open,omitempty"`
	Close   string           `yaml:"close,omitempty"`
	Refresh string           `yaml:"refresh,omitempty"`
	Message string           `yaml:"message,omitempty"`
	Ops     []map[string]any `yaml:"ops,omitempty"`
	Config  *yaml.Node       `yaml:"config,omitempty"`

	// ExpectError marks a step whose action must fail.
	ExpectError bool `yaml:"expect_error,omitempty"`
}

// Assertion validates the final state or the trace.
type Assertion struct {
	// Type specifies the assertion type:
	// - "labels": final labels of Doc in Scope equal Labels
	// - "applied_count": Scope on Doc changed decorations Count times
	// - "cleared": Doc has no state and no decorations in Scope
	Type string `yaml:"type"`

	Doc    string   `yaml:"doc"`
	Scope  ir.Scope `yaml:"scope"`
	Labels []string `yaml:"labels,omitempty"`
	Count  int      `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertLabels       = "labels"
	AssertAppliedCount = "applied_count"
	AssertCleared      = "cleared"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
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
	if len(s.Documents) == 0 {
		return fmt.Errorf("documents list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	docs := make(map[string]bool, len(s.Documents))
	for i, d := range s.Documents {
		if d.ID == "" {
			return fmt.Errorf("documents[%d]: id is required", i)
		}
		if docs[d.ID] {
			return fmt.Errorf("documents[%d]: duplicate id %q", i, d.ID)
		}
		docs[d.ID] = true
	}

	for i, step := range s.Steps {
		if n := step.actions(); n != 1 {
			return fmt.Errorf("steps[%d]: exactly one action is required, got %d", i, n)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Open != "", s.Close != "", s.Refresh != "", s.Message != "",
		len(s.Ops) > 0, s.Config != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Doc == "" {
		return fmt.Errorf("assertions[%d]: doc is required", index)
	}
	if a.Scope != ir.ScopeHeadings && a.Scope != ir.ScopeFigures {
		return fmt.Errorf("assertions[%d]: scope must be %q or %q", index, ir.ScopeHeadings, ir.ScopeFigures)
	}

	switch a.Type {
	case AssertLabels, AssertCleared:
	case AssertAppliedCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for applied_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
