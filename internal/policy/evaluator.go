package policy

import (
	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/rs/zerolog"

	"github.com/roach88/psbthsm/internal/model"
)

// Evaluator decides whether policies approve signing requests.
//
// Each Authorize call compiles scripts in a fresh CUE context, so an
// Evaluator holds no mutable state and is safe for concurrent use.
type Evaluator struct {
	net *chaincfg.Params
	log zerolog.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithNetwork sets the chain parameters used to render output addresses.
//
// Default: mainnet.
func WithNetwork(net *chaincfg.Params) EvaluatorOption {
	return func(e *Evaluator) {
		if net != nil {
			e.net = net
		}
	}
}

// WithLogger sets the logger used to report script failures.
func WithLogger(log zerolog.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.log = log
	}
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		net: &chaincfg.MainNetParams,
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Approves reports whether p approves req.
// A policy for a different signature kind never approves.
func (e *Evaluator) Approves(p Policy, req model.SigRequest) bool {
	if p.Kind != req.SigType() {
		return false
	}
	ctx := cuecontext.New()
	return e.approves(ctx, environment(ctx, req, e.net), p, p.ID())
}

// Authorize reports whether any policy in store approves req.
func (e *Evaluator) Authorize(store *Store, req model.SigRequest) bool {
	_, ok := e.Decide(store, req)
	return ok
}

// Decide returns the identifier of the first policy in store that approves
// req. Evaluation short-circuits on the first approval.
func (e *Evaluator) Decide(store *Store, req model.SigRequest) (ID, bool) {
	var (
		ctx *cue.Context
		env cue.Value
	)

	for _, ent := range store.entries {
		if ent.policy.Kind != req.SigType() {
			continue
		}
		if ctx == nil {
			ctx = cuecontext.New()
			env = environment(ctx, req, e.net)
		}
		if e.approves(ctx, env, ent.policy, ent.id) {
			return ent.id, true
		}
	}

	return ID{}, false
}

func (e *Evaluator) approves(ctx *cue.Context, env cue.Value, p Policy, id ID) bool {
	v := ctx.CompileString(p.Script,
		cue.Filename("policy-"+id.Short()+".cue"),
		cue.Scope(env),
		cue.InferBuiltins(true),
	)
	if err := v.Err(); err != nil {
		e.log.Debug().Str("policy_id", id.Short()).Err(err).Msg("policy script failed to compile")
		return false
	}

	approved, err := v.Bool()
	if err != nil {
		e.log.Debug().Str("policy_id", id.Short()).Err(err).Msg("policy script did not yield a boolean")
		return false
	}
	return approved
}
