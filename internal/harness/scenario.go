package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs is the directory of CUE backend manifests.
	// Relative paths are resolved against the scenario file's directory.
	Specs string `yaml:"specs"`

	// Setup steps run before the flow and must all succeed.
	// They are traced like flow steps.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow contains the steps under test, each optionally with an expectation.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace, relay state and journal.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation of a scenario. Which fields apply depends on Op.
type Step struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	// As names the deployed backend, relay or caller for later steps.
	As string `yaml:"as,omitempty"`

	// Backend is a manifest name (deploy_backend) or an alias/handle
	// (deploy_relay, upgrade, rollback).
	Backend string `yaml:"backend,omitempty"`

	// Relay is the alias/handle of the relay to administer.
	Relay string `yaml:"relay,omitempty"`

	// Target is the alias/handle a static caller binds to.
	Target string `yaml:"target,omitempty"`

	// Caller is the alias of the static caller used by call.
	Caller string `yaml:"caller,omitempty"`

	// Version is the label for deploy_relay, upgrade and rollback.
	// deploy_relay defaults to relay.DefaultVersion.
	Version *int64 `yaml:"version,omitempty"`

	// Signature is the operation signature for register_size and call.
	Signature string `yaml:"signature,omitempty"`

	// Size is the expected result width for register_size.
	Size int `yaml:"size,omitempty"`

	// Expect specifies the expected outcome. Nil means the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies an expected step outcome.
// Exactly one of Value and Error is set.
type ExpectClause struct {
	// Value is the decoded result of a call.
	Value *int64 `yaml:"value,omitempty"`

	// Error is the expected RelayError code, e.g. "INVALID_TARGET".
	Error string `yaml:"error,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Op is the operation name (trace_count, trace_contains).
	Op string `yaml:"op,omitempty"`

	// Ops is the expected first-appearance order (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// Outcome optionally filters trace_count by "ok" or an error code.
	Outcome string `yaml:"outcome,omitempty"`

	// Args is a subset of step args that must match (trace_contains).
	Args map[string]interface{} `yaml:"args,omitempty"`

	// Relay is the relay alias (relay_state, journal_count).
	Relay string `yaml:"relay,omitempty"`

	// Backend is the expected current backend alias/handle (relay_state).
	Backend string `yaml:"backend,omitempty"`

	// Version is the expected current version (relay_state).
	Version *int64 `yaml:"version,omitempty"`

	// Kind optionally filters journal_count by change kind.
	Kind string `yaml:"kind,omitempty"`

	// Count is the expected number of occurrences (trace_count, journal_count).
	Count int `yaml:"count,omitempty"`
}

// Operation constants.
const (
	OpDeployBackend = "deploy_backend"
	OpDeployRelay   = "deploy_relay"
	OpStaticCaller  = "static_caller"
	OpRegisterSize  = "register_size"
	OpUpgrade       = "upgrade"
	OpRollback      = "rollback"
	OpCall          = "call"
)

// Assertion type constants.
const (
	AssertTraceCount    = "trace_count"
	AssertTraceOrder    = "trace_order"
	AssertTraceContains = "trace_contains"
	AssertRelayState    = "relay_state"
	AssertJournalCount  = "journal_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
//
// A relative Specs path is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving a relative Specs path against basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Specs != "" && !filepath.IsAbs(scenario.Specs) && basePath != "" {
		scenario.Specs = filepath.Join(basePath, scenario.Specs)
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

	if s.Specs == "" {
		return fmt.Errorf("specs directory is required")
	}
	if info, err := os.Stat(s.Specs); err != nil || !info.IsDir() {
		return fmt.Errorf("specs directory not found: %s", s.Specs)
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if err := validateStep(fmt.Sprintf("setup[%d]", i), &step); err != nil {
			return err
		}
		if step.Expect != nil && step.Expect.Error != "" {
			return fmt.Errorf("setup[%d]: setup steps cannot expect errors", i)
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(fmt.Sprintf("flow[%d]", i), &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateStep validates a single step based on its op.
func validateStep(where string, st *Step) error {
	require := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("%s: %s is required for %s", where, field, st.Op)
		}
		return nil
	}

	var err error
	switch st.Op {
	case OpDeployBackend:
		err = require("backend", st.Backend)
	case OpDeployRelay:
		err = require("backend", st.Backend)
	case OpStaticCaller:
		err = require("target", st.Target)
	case OpRegisterSize:
		if err = require("relay", st.Relay); err == nil {
			err = require("signature", st.Signature)
		}
	case OpUpgrade, OpRollback:
		if err = require("relay", st.Relay); err == nil {
			err = require("backend", st.Backend)
		}
		if err == nil && st.Version == nil {
			err = fmt.Errorf("%s: version is required for %s", where, st.Op)
		}
	case OpCall:
		if err = require("caller", st.Caller); err == nil {
			err = require("signature", st.Signature)
		}
	case "":
		return fmt.Errorf("%s: op is required", where)
	default:
		return fmt.Errorf("%s: unknown op %q", where, st.Op)
	}
	if err != nil {
		return err
	}

	if e := st.Expect; e != nil {
		if (e.Value == nil) == (e.Error == "") {
			return fmt.Errorf("%s.expect: exactly one of value or error is required", where)
		}
		if e.Value != nil && st.Op != OpCall {
			return fmt.Errorf("%s.expect: value is only valid for call", where)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertRelayState:
		if a.Relay == "" {
			return fmt.Errorf("assertions[%d]: relay is required for relay_state", index)
		}
		if a.Backend == "" && a.Version == nil {
			return fmt.Errorf("assertions[%d]: backend or version is required for relay_state", index)
		}
	case AssertJournalCount:
		if a.Relay == "" {
			return fmt.Errorf("assertions[%d]: relay is required for journal_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for journal_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
