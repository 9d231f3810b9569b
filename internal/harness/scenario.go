package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/snapfsio/snapfs-agent-mysql/internal/store"
)

// Scenario is a recorded stretch of gateway traffic plus the outcome it
// must produce. Frames are replayed in order against a fresh store.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Frames are raw inbound text frames, exactly as the gateway sent
	// them. Malformed frames are allowed.
	Frames []string `yaml:"frames"`

	// Faults make the store fail specific batches before they commit.
	Faults []Fault `yaml:"faults,omitempty"`

	// MaxAttempts bounds apply attempts per batch. Defaults to 3.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// Assertions validate the replies and the final store state.
	// Supported types: acks, outcomes, last_applied, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// Fault fails the first Times apply attempts of a batch.
type Fault struct {
	BatchID string `yaml:"batch_id"`

	// Class is "transient" or "fatal".
	Class string `yaml:"class"`

	// Times is the number of attempts to fail. Zero means every attempt.
	Times int `yaml:"times,omitempty"`
}

func (f Fault) storeClass() (store.Class, error) {
	switch f.Class {
	case "transient":
		return store.ClassTransient, nil
	case "fatal":
		return store.ClassFatal, nil
	default:
		return 0, fmt.Errorf("unknown fault class %q", f.Class)
	}
}

// Assertion validates the replay result or the final store state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "acks": the exact ordered list of ack tokens sent
	// - "outcomes": the exact ordered list of per-frame outcomes
	// - "last_applied": the sequence gate of one entity
	// - "final_state": query a table and verify expected values
	Type string `yaml:"type"`

	// Tokens are the expected ack tokens (used by acks).
	Tokens []string `yaml:"tokens,omitempty"`

	// Outcomes are the expected outcomes (used by outcomes).
	Outcomes []string `yaml:"outcomes,omitempty"`

	// EntityID selects the gate row (used by last_applied).
	EntityID string `yaml:"entity_id,omitempty"`

	// Sequence is the expected gate value (used by last_applied).
	// Absent means the entity must never have been applied.
	Sequence *int64 `yaml:"sequence,omitempty"`

	// Table is the table name (used by final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (used by final_state).
	// All fields must match exactly.
	Where map[string]interface{} `yaml:"where,omitempty"`

	// Expect contains expected field values (used by final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]interface{} `yaml:"expect,omitempty"`

	// Absent asserts that no row matches Where (used by final_state).
	Absent bool `yaml:"absent,omitempty"`
}

// Assertion type constants.
const (
	AssertAcks        = "acks"
	AssertOutcomes    = "outcomes"
	AssertLastApplied = "last_applied"
	AssertFinalState  = "final_state"
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
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catches "assertion:" vs "assertions:"
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

	if len(s.Frames) == 0 {
		return fmt.Errorf("frames list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must be non-negative")
	}

	for i, f := range s.Faults {
		if f.BatchID == "" {
			return fmt.Errorf("faults[%d]: batch_id is required", i)
		}
		if _, err := f.storeClass(); err != nil {
			return fmt.Errorf("faults[%d]: %w", i, err)
		}
		if f.Times < 0 {
			return fmt.Errorf("faults[%d]: times must be non-negative", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
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
	case AssertAcks:
		// An empty token list asserts that nothing was acked.
	case AssertOutcomes:
		if len(a.Outcomes) == 0 {
			return fmt.Errorf("assertions[%d]: outcomes list is required for outcomes", index)
		}
	case AssertLastApplied:
		if a.EntityID == "" {
			return fmt.Errorf("assertions[%d]: entity_id is required for last_applied", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if a.Absent {
			if len(a.Where) == 0 {
				return fmt.Errorf("assertions[%d]: where is required for an absent final_state", index)
			}
			if len(a.Expect) > 0 {
				return fmt.Errorf("assertions[%d]: absent final_state cannot have expect", index)
			}
		} else if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
