package harness

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/rs/zerolog"

	"github.com/roach88/psbthsm/internal/keys"
	"github.com/roach88/psbthsm/internal/model"
	"github.com/roach88/psbthsm/internal/policy"
	"github.com/roach88/psbthsm/internal/testutil"
	"github.com/roach88/psbthsm/internal/vault"
	"github.com/roach88/psbthsm/internal/worker"
)

// defaultEntropy is the seal entropy fill byte when a step names none.
const defaultEntropy = 0x42

// Harness executes one scenario against a fresh vault.
type Harness struct {
	tb       testing.TB
	scenario *Scenario
	fixture  *keys.KeyMaterial
	log      zerolog.Logger

	unsealed *vault.Unsealed
	sealed   *vault.Sealed
	wiped    bool

	worker     *worker.Worker
	stopWorker context.CancelFunc
	workerDone sync.WaitGroup
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a new vault on mainnet. Fixture PSBTs spend
// outputs of the default test seed, so a vault loaded with another seed
// finds no inputs of its own. Seal entropy is fixed per step, which makes
// signatures and traces reproducible.
func Run(tb testing.TB, scenario *Scenario) (*Result, error) {
	tb.Helper()

	opts := []vault.Option{vault.WithLogger(zerolog.Nop())}
	if scenario.PolicyLock {
		opts = append(opts, vault.WithPolicyLock())
	}

	h := &Harness{
		tb:       tb,
		scenario: scenario,
		fixture:  testutil.MasterKey(tb),
		log:      zerolog.Nop(),
		unsealed: vault.New(opts...),
	}
	defer h.close()

	result := NewResult()
	for i, step := range scenario.Steps {
		ev, err := h.execute(step)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
		ev = result.addEvent(ev)
		checkExpectation(result, i, step, ev)
	}

	result.State = h.state()
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// checkExpectation compares an executed step with what it declared.
func checkExpectation(result *Result, i int, step Step, ev TraceEvent) {
	want := step.Expect
	if want == "" {
		want = OutcomeOK
	}
	if ev.Outcome != want {
		result.AddError(fmt.Sprintf("step %d (%s): expected outcome %s, got %s", i, step.Op, want, ev.Outcome))
	}
	if step.Input != nil && (ev.Input == nil || *ev.Input != *step.Input) {
		result.AddError(fmt.Sprintf("step %d (%s): expected failing input %d, got %s", i, step.Op, *step.Input, formatInput(ev.Input)))
	}
	if step.Signatures != nil && ev.Signatures != *step.Signatures {
		result.AddError(fmt.Sprintf("step %d (%s): expected %d signatures, got %d", i, step.Op, *step.Signatures, ev.Signatures))
	}
}

func formatInput(input *int) string {
	if input == nil {
		return "none"
	}
	return fmt.Sprint(*input)
}

// execute runs one step. A returned error means the scenario itself is
// broken; vault errors are recorded in the event.
func (h *Harness) execute(step Step) (TraceEvent, error) {
	ev := TraceEvent{Op: step.Op}

	var err error
	switch step.Op {
	case OpLoadSeed:
		seed, serr := seedBytes(step.Seed)
		if serr != nil {
			return ev, serr
		}
		err = h.unsealed.LoadSeed(seed)

	case OpDeletePrivKey:
		err = h.unsealed.DeletePrivKey()

	case OpLoadPolicy:
		p, perr := stepPolicy(step)
		if perr != nil {
			return ev, perr
		}
		_, err = h.unsealed.LoadPolicy(p)

	case OpDeletePolicy:
		id, ierr := stepPolicyID(step)
		if ierr != nil {
			return ev, ierr
		}
		err = h.unsealed.DeletePolicy(id)

	case OpSeal:
		err = h.seal(step)

	case OpSign:
		req := model.PsbtRequest{Packet: h.buildPsbt(step.Psbt)}
		var data model.SignedData
		data, err = h.sign(req)
		if signed, ok := data.(model.SignedPsbt); ok {
			ev.Signatures = signed.Signatures
		}

	case OpSignMessage:
		_, err = h.sign(model.MessageRequest{Text: step.Message})

	case OpWipe:
		if h.sealed == nil {
			err = model.NewError(model.CodeInvalidState, "vault is not sealed")
			break
		}
		h.sealed.Wipe()
		h.wiped = true

	default:
		return ev, fmt.Errorf("unknown op %q", step.Op)
	}

	ev.Outcome = outcome(err)
	var me *model.Error
	if errors.As(err, &me) && me.Input >= 0 {
		input := me.Input
		ev.Input = &input
	}
	return ev, nil
}

func outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	return string(model.CodeOf(err))
}

func (h *Harness) seal(step Step) error {
	fill := defaultEntropy
	if step.Entropy != nil {
		fill = *step.Entropy
	}

	sealed, err := h.unsealed.Seal(testutil.Entropy(byte(fill)))
	if err != nil {
		return err
	}
	h.sealed = sealed

	if h.scenario.Worker {
		h.worker = worker.New(sealed,
			worker.WithRequestIDs(worker.NewSequentialGenerator(h.scenario.Name)),
			worker.WithLogger(h.log),
		)
		ctx, cancel := context.WithCancel(context.Background())
		h.stopWorker = cancel
		h.workerDone.Add(1)
		go func() {
			defer h.workerDone.Done()
			_ = h.worker.Run(ctx)
		}()
	}
	return nil
}

// sign sends req to the sealed vault, through the worker when enabled.
// Without a sealed vault the request fails with ErrInvalidState.
func (h *Harness) sign(req model.SigRequest) (model.SignedData, error) {
	if h.sealed == nil {
		return nil, model.NewError(model.CodeInvalidState, "vault is not sealed")
	}
	if h.worker != nil {
		return h.worker.Submit(context.Background(), req)
	}
	return h.sealed.Sign(req)
}

func (h *Harness) close() {
	if h.worker != nil {
		h.worker.Stop()
		h.stopWorker()
		h.workerDone.Wait()
	}
	if h.sealed != nil {
		h.sealed.Wipe()
	}
}

func (h *Harness) state() VaultState {
	switch {
	case h.wiped:
		return VaultState{Phase: "wiped", Policies: len(h.sealed.PolicyIDs())}
	case h.sealed != nil:
		return VaultState{Phase: "sealed", HasKey: true, Policies: len(h.sealed.PolicyIDs())}
	default:
		return VaultState{Phase: "unsealed", HasKey: h.unsealed.HasKey(), Policies: len(h.unsealed.PolicyIDs())}
	}
}

// buildPsbt assembles the fixture transaction for spec.
func (h *Harness) buildPsbt(spec *PsbtSpec) *psbt.Packet {
	b := testutil.NewPsbt(h.tb, h.fixture)
	for _, in := range spec.Inputs {
		path, err := keys.ParsePath(in.Path)
		if err != nil {
			h.tb.Fatalf("input path %q: %v", in.Path, err)
		}
		b.Input(path, in.Value, inputOptions(h.tb, in)...)
	}
	for _, value := range spec.Outputs {
		b.Output(value, testutil.DestinationScript(h.tb))
	}
	return b.Build()
}

func inputOptions(tb testing.TB, in InputSpec) []testutil.InputOption {
	var opts []testutil.InputOption
	if in.Sighash != nil {
		opts = append(opts, testutil.WithSighash(txscript.SigHashType(*in.Sighash)))
	}
	if in.NoUtxo {
		opts = append(opts, testutil.WithoutUtxo())
	}
	if in.Witness {
		opts = append(opts, testutil.WithWitnessPrevout())
	}
	if in.PrevScript != "" {
		script, err := hex.DecodeString(in.PrevScript)
		if err != nil {
			tb.Fatalf("prev_script: %v", err)
		}
		opts = append(opts, testutil.WithPrevScript(script))
	}
	if in.Finalized {
		opts = append(opts, testutil.Finalized())
	}
	if in.NoHint {
		opts = append(opts, testutil.WithoutHint())
	}
	if in.Mismatched {
		opts = append(opts, testutil.WithMismatchedUtxo())
	}
	return opts
}

func seedBytes(s string) ([]byte, error) {
	switch s {
	case "default":
		return testutil.Seed(), nil
	case "other":
		return testutil.OtherSeed(), nil
	}
	seed, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("seed %q is neither default, other nor hex: %w", s, err)
	}
	return seed, nil
}

func stepPolicy(step Step) (policy.Policy, error) {
	kind, err := model.ParseSigType(step.Kind)
	if err != nil {
		return policy.Policy{}, err
	}
	return policy.Policy{Kind: kind, Script: step.Script}, nil
}

func stepPolicyID(step Step) (policy.ID, error) {
	if step.ID != "" {
		return policy.ParseID(step.ID)
	}
	p, err := stepPolicy(step)
	if err != nil {
		return policy.ID{}, err
	}
	return p.ID(), nil
}
