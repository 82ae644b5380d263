package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/causality/internal/machine"
	"github.com/roach88/causality/internal/testutil"
)

// Scenario defines a conformance scenario.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description,omitempty"`

	// Exactly one of Source, SourceFile and Fixture names the program.
	// SourceFile is resolved relative to the scenario file.
	Source     string `yaml:"source,omitempty"`
	SourceFile string `yaml:"source_file,omitempty"`
	Fixture    string `yaml:"fixture,omitempty"`

	// Inputs parameterizes the inputs fixture.
	Inputs []int64 `yaml:"inputs,omitempty"`

	// Gas overrides the default gas budget when non-zero.
	Gas uint64 `yaml:"gas,omitempty"`

	// Handlers installs host handlers by effect tag.
	Handlers []HandlerSpec `yaml:"handlers,omitempty"`

	// Capabilities restricts the effects the run may perform.
	Capabilities []string `yaml:"capabilities,omitempty"`

	Expect ExpectClause `yaml:"expect"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// HandlerSpec is a host handler with canned behavior.
type HandlerSpec struct {
	Tag string `yaml:"tag"`

	// Op is one of incr (first argument plus one), echo (first argument),
	// const (Value) and fail (an error).
	Op string `yaml:"op"`

	Value int64 `yaml:"value,omitempty"`
}

// Handler ops.
const (
	HandlerIncr  = "incr"
	HandlerEcho  = "echo"
	HandlerConst = "const"
	HandlerFail  = "fail"
)

// ExpectClause specifies the outcome. An empty Failure expects success.
type ExpectClause struct {
	Value    string `yaml:"value,omitempty"`
	Failure  string `yaml:"failure,omitempty"`
	Category string `yaml:"category,omitempty"`
}

// Assertion validates the finalized run.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Count is used by trace_length, event_count, resource_state and
	// gas_at_most.
	Count int `yaml:"count,omitempty"`

	// Ops is the expected instruction order (instruction_order).
	Ops []string `yaml:"ops,omitempty"`

	// Kind is the event kind (event_count).
	Kind string `yaml:"kind,omitempty"`

	// State is the final resource state (resource_state).
	State string `yaml:"state,omitempty"`

	// Labels are the two labels of happens_before and concurrent.
	Labels []string `yaml:"labels,omitempty"`

	// Backend selects the proof backend (proof_verifies); attest when empty.
	Backend string `yaml:"backend,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceLength         = "trace_length"
	AssertInstructionOrder    = "instruction_order"
	AssertEventCount          = "event_count"
	AssertResourceState       = "resource_state"
	AssertHappensBefore       = "happens_before"
	AssertConcurrent          = "concurrent"
	AssertGasAtMost           = "gas_at_most"
	AssertReplayDeterministic = "replay_deterministic"
	AssertProofVerifies       = "proof_verifies"
)

// Fixture names.
const (
	FixtureAllocConsume     = "alloc-consume"
	FixtureDoubleConsume    = "double-consume"
	FixtureUnconsumedLinear = "unconsumed-linear"
	FixtureInputs           = "inputs"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.SourceFile != "" && !filepath.IsAbs(s.SourceFile) {
		s.SourceFile = filepath.Join(filepath.Dir(path), s.SourceFile)
	}
	return s, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// program resolves the scenario's program. The second result is the
// source text, empty for fixtures.
func (s *Scenario) program() (*machine.Program, string, error) {
	switch {
	case s.Source != "":
		return nil, s.Source, nil
	case s.SourceFile != "":
		data, err := os.ReadFile(s.SourceFile)
		if err != nil {
			return nil, "", fmt.Errorf("read source: %w", err)
		}
		return nil, string(data), nil
	}
	switch s.Fixture {
	case FixtureAllocConsume:
		return testutil.AllocConsume(42), "", nil
	case FixtureDoubleConsume:
		return testutil.DoubleConsume(), "", nil
	case FixtureUnconsumedLinear:
		return testutil.UnconsumedLinear(), "", nil
	case FixtureInputs:
		return testutil.Inputs(s.Inputs...), "", nil
	}
	return nil, "", fmt.Errorf("unknown fixture %q", s.Fixture)
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	n := 0
	for _, set := range []bool{s.Source != "", s.SourceFile != "", s.Fixture != ""} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("exactly one of source, source_file and fixture is required")
	}
	if s.Fixture == FixtureInputs && len(s.Inputs) == 0 {
		return fmt.Errorf("the inputs fixture needs at least one input")
	}
	if s.Expect.Value != "" && s.Expect.Failure != "" {
		return fmt.Errorf("expect: value and failure are exclusive")
	}
	for i, h := range s.Handlers {
		if h.Tag == "" {
			return fmt.Errorf("handlers[%d]: tag is required", i)
		}
		switch h.Op {
		case HandlerIncr, HandlerEcho, HandlerConst, HandlerFail:
		default:
			return fmt.Errorf("handlers[%d]: unknown op %q", i, h.Op)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a, i); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(a Assertion, index int) error {
	switch a.Type {
	case AssertTraceLength, AssertGasAtMost:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertInstructionOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for instruction_order", index)
		}
	case AssertEventCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for event_count", index)
		}
	case AssertResourceState:
		if _, err := machine.ParseResourceState(a.State); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertHappensBefore, AssertConcurrent:
		if len(a.Labels) != 2 {
			return fmt.Errorf("assertions[%d]: %s needs exactly two labels", index, a.Type)
		}
	case AssertReplayDeterministic:
	case AssertProofVerifies:
		switch a.Backend {
		case "", "attest", "groth16":
		default:
			return fmt.Errorf("assertions[%d]: unknown backend %q", index, a.Backend)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
