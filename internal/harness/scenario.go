package harness

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/psbthsm/internal/keys"
	"github.com/roach88/psbthsm/internal/model"
	"github.com/roach88/psbthsm/internal/policy"
)

// Step operations.
const (
	OpLoadSeed      = "load_seed"
	OpDeletePrivKey = "delete_privkey"
	OpLoadPolicy    = "load_policy"
	OpDeletePolicy  = "delete_policy"
	OpSeal          = "seal"
	OpSign          = "sign"
	OpSignMessage   = "sign_message"
	OpWipe          = "wipe"
)

// Scenario drives one vault through a sequence of lifecycle operations and
// signing requests.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// PolicyLock creates the vault with vault.WithPolicyLock.
	PolicyLock bool `yaml:"policy_lock,omitempty"`

	// Worker routes sign requests through a worker.Worker once sealed.
	Worker bool `yaml:"worker,omitempty"`

	// Steps run in order against the vault.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and vault state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation on the vault.
type Step struct {
	Op string `yaml:"op"`

	// Seed for load_seed: "default", "other" or hex bytes.
	Seed string `yaml:"seed,omitempty"`

	// Kind and Script describe the policy for load_policy and
	// delete_policy. ID may be given for delete_policy instead.
	Kind   string `yaml:"kind,omitempty"`
	Script string `yaml:"script,omitempty"`
	ID     string `yaml:"id,omitempty"`

	// Entropy is the fill byte of the seal entropy (default 0x42).
	Entropy *int `yaml:"entropy,omitempty"`

	// Psbt describes the transaction for sign.
	Psbt *PsbtSpec `yaml:"psbt,omitempty"`

	// Message is the text for sign_message.
	Message string `yaml:"message,omitempty"`

	// Expect is the expected outcome code (default "OK").
	Expect string `yaml:"expect,omitempty"`

	// Input is the expected failing input index.
	Input *int `yaml:"input,omitempty"`

	// Signatures is the expected partial signature count for sign.
	Signatures *int `yaml:"signatures,omitempty"`
}

// PsbtSpec describes a fixture transaction whose inputs spend outputs
// controlled by the default test seed.
type PsbtSpec struct {
	Inputs []InputSpec `yaml:"inputs"`

	// Outputs are values paid to the fixed destination script.
	// Defaults to a single 10000 satoshi output.
	Outputs []int64 `yaml:"outputs,omitempty"`
}

// InputSpec describes one fixture input.
type InputSpec struct {
	Path       string  `yaml:"path"`
	Value      int64   `yaml:"value"`
	Sighash    *uint32 `yaml:"sighash,omitempty"`
	NoUtxo     bool    `yaml:"no_utxo,omitempty"`
	Witness    bool    `yaml:"witness,omitempty"`
	Finalized  bool    `yaml:"finalized,omitempty"`
	NoHint     bool    `yaml:"no_hint,omitempty"`
	Mismatched bool    `yaml:"mismatched_utxo,omitempty"`
	PrevScript string  `yaml:"prev_script,omitempty"` // hex
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": some step has Op (and Outcome, if set)
	// - "trace_order": the first occurrences of Ops appear in order
	// - "trace_count": exactly Count steps have Op (and Outcome, if set)
	// - "final_state": the vault state matches Expect (subset)
	Type string `yaml:"type"`

	Op      string         `yaml:"op,omitempty"`
	Outcome string         `yaml:"outcome,omitempty"`
	Ops     []string       `yaml:"ops,omitempty"`
	Count   int            `yaml:"count,omitempty"`
	Expect  map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
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

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
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
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d] (%s): %w", i, step.Op, err)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	switch step.Op {
	case OpLoadSeed:
		if step.Seed == "" {
			return fmt.Errorf("seed is required")
		}
		if _, err := seedBytes(step.Seed); err != nil {
			return err
		}
	case OpLoadPolicy:
		if _, err := model.ParseSigType(step.Kind); err != nil {
			return err
		}
	case OpDeletePolicy:
		if step.ID != "" {
			if _, err := policy.ParseID(step.ID); err != nil {
				return err
			}
			break
		}
		if _, err := model.ParseSigType(step.Kind); err != nil {
			return fmt.Errorf("id or kind is required: %w", err)
		}
	case OpSeal:
		if step.Entropy != nil && (*step.Entropy < 0 || *step.Entropy > 0xff) {
			return fmt.Errorf("entropy fill byte out of range: %d", *step.Entropy)
		}
	case OpSign:
		if step.Psbt == nil || len(step.Psbt.Inputs) == 0 {
			return fmt.Errorf("psbt with at least one input is required")
		}
		for j, in := range step.Psbt.Inputs {
			if _, err := keys.ParsePath(in.Path); err != nil {
				return fmt.Errorf("inputs[%d]: %w", j, err)
			}
			if in.PrevScript != "" {
				if _, err := hex.DecodeString(in.PrevScript); err != nil {
					return fmt.Errorf("inputs[%d]: prev_script: %w", j, err)
				}
			}
		}
	case OpDeletePrivKey, OpSignMessage, OpWipe:
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
