package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/psbthsm/internal/model"
	"github.com/roach88/psbthsm/internal/policy"
)

var falsePolicyID = policy.Identify(model.SigTypeTransaction, "false").String()

func intPtr(n int) *int { return &n }

func mustParse(t *testing.T, yaml string) *Scenario {
	t.Helper()

	scenario, err := ParseScenario([]byte(yaml))
	require.NoError(t, err)
	return scenario
}

func TestRunRecordsOutcomes(t *testing.T) {
	scenario := mustParse(t, `
name: outcomes
description: "each step is traced with its outcome"
steps:
  - op: seal
    expect: NO_PRIV_KEY
  - op: load_seed
    seed: default
  - op: seal
  - op: sign_message
    message: hi
    expect: AUTHORIZATION_DENIED
`)

	result, err := Run(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Trace, 4)
	assert.Equal(t, TraceEvent{Seq: 1, Op: OpSeal, Outcome: "NO_PRIV_KEY"}, result.Trace[0])
	assert.Equal(t, TraceEvent{Seq: 3, Op: OpSeal, Outcome: OutcomeOK}, result.Trace[2])
	assert.Equal(t, VaultState{Phase: "sealed", HasKey: true}, result.State)
}

func TestRunUnexpectedOutcomeFails(t *testing.T) {
	scenario := mustParse(t, `
name: mismatch
description: "a step that does not do what it declares"
steps:
  - op: seal
`)

	result, err := Run(t, scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected outcome OK, got NO_PRIV_KEY")
}

func TestRunChecksInputAndSignatures(t *testing.T) {
	scenario := mustParse(t, `
name: details
description: "failing input and signature counts are compared"
steps:
  - op: load_seed
    seed: default
  - op: load_policy
    kind: transaction
    script: "true"
  - op: seal
  - op: sign
    psbt:
      inputs:
        - { path: "m/0", value: 1000 }
        - { path: "m/1", value: 1000, no_utxo: true }
    expect: MISSING_NON_WITNESS_UTXO
    input: 0
  - op: sign
    psbt:
      inputs:
        - { path: "m/0", value: 1000 }
    signatures: 3
`)

	result, err := Run(t, scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "expected failing input 0, got 1")
	assert.Contains(t, result.Errors[1], "expected 3 signatures, got 1")

	assert.Equal(t, intPtr(1), result.Trace[3].Input)
	assert.Equal(t, 1, result.Trace[4].Signatures)
}

func TestRunThroughWorkerMatchesDirect(t *testing.T) {
	const body = `
description: "same trace with or without the worker"
steps:
  - op: load_seed
    seed: default
  - op: load_policy
    kind: transaction
    script: request.tx.output_count == 1
  - op: seal
  - op: sign
    psbt:
      inputs:
        - { path: "m/0", value: 1000 }
        - { path: "m/2", value: 1000 }
  - op: sign
    psbt:
      inputs:
        - { path: "m/0", value: 1000 }
      outputs: [100, 200]
    expect: AUTHORIZATION_DENIED
  - op: wipe
  - op: sign
    psbt:
      inputs:
        - { path: "m/0", value: 1000 }
    expect: INVALID_STATE
`

	direct, err := Run(t, mustParse(t, "name: direct\n"+body))
	require.NoError(t, err)
	viaWorker, err := Run(t, mustParse(t, "name: queued\nworker: true\n"+body))
	require.NoError(t, err)

	assert.True(t, direct.Pass, "errors: %v", direct.Errors)
	assert.True(t, viaWorker.Pass, "errors: %v", viaWorker.Errors)
	assert.Equal(t, direct.Trace, viaWorker.Trace)
	assert.Equal(t, 2, direct.Trace[3].Signatures)
}

func TestRunDeletePolicyByID(t *testing.T) {
	scenario := mustParse(t, `
name: delete_by_id
description: "policies can be removed by identifier"
steps:
  - op: load_policy
    kind: transaction
    script: "false"
  - op: delete_policy
    id: `+falsePolicyID+`
  - op: delete_policy
    id: `+falsePolicyID+`
    expect: NOT_FOUND
assertions:
  - type: final_state
    expect: { phase: unsealed, has_key: false, policies: 0 }
`)

	result, err := Run(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRunDeterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/preflight_failures.yaml")
	require.NoError(t, err)

	first, err := Run(t, scenario)
	require.NoError(t, err)
	second, err := Run(t, scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.State, second.State)
}
