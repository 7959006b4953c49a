// Package harness runs vault conformance scenarios.
//
// A scenario drives one vault through lifecycle operations and signing
// requests and records a trace of (op, outcome, failing input, signature
// count). Each step may declare its expected outcome; assertions then
// check the whole trace and the final vault state, and the trace is
// compared against a golden file.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: sign_after_seal
//	description: "A sealed vault signs what a policy approves"
//	worker: true          # optional: sign through worker.Worker
//	policy_lock: false    # optional: vault.WithPolicyLock
//	steps:
//	  - op: load_seed
//	    seed: default     # default | other | hex
//	  - op: load_policy
//	    kind: transaction
//	    script: request.tx.output_total <= 100000
//	  - op: seal
//	    entropy: 66       # fill byte, default 0x42
//	  - op: sign
//	    psbt:
//	      inputs:
//	        - { path: "m/0", value: 30000 }
//	      outputs: [25000]
//	    signatures: 1
//	  - op: sign_message
//	    message: hello
//	    expect: NOT_SUPPORTED
//	assertions:
//	  - type: trace_count
//	    op: sign
//	    outcome: OK
//	    count: 1
//	  - type: final_state
//	    expect: { phase: sealed, policies: 1 }
//
// Ops: load_seed, delete_privkey, load_policy, delete_policy, seal, sign,
// sign_message, wipe. Outcomes are "OK" or a model error code.
//
// # Assertion Types
//
//   - trace_contains: some step has the op (and outcome, if given)
//   - trace_order: the first occurrences of ops appear in order
//   - trace_count: exactly count steps have the op (and outcome, if given)
//   - final_state: phase, has_key and policies of the vault after the run
//
// # Deterministic Testing
//
// Fixture transactions spend outputs of the default test seed and seal
// entropy is fixed, so traces are identical across runs.
package harness
