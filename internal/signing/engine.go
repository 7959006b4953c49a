package signing

import (
	"github.com/rs/zerolog"

	"github.com/roach88/psbthsm/internal/keys"
	"github.com/roach88/psbthsm/internal/model"
	"github.com/roach88/psbthsm/internal/policy"
)

// Engine signs requests with one master key under a fixed policy set.
//
// Engine never mutates its key, context or policies, so Sign may be called
// from several goroutines provided they pass distinct packets.
type Engine struct {
	keys      *keys.KeyMaterial
	ctx       *keys.SigningContext
	policies  *policy.Store
	evaluator *policy.Evaluator
	log       zerolog.Logger
}

// NewEngine creates an Engine. The caller keeps ownership of km and ctx and
// is responsible for wiping them.
func NewEngine(km *keys.KeyMaterial, ctx *keys.SigningContext, policies *policy.Store, evaluator *policy.Evaluator, log zerolog.Logger) *Engine {
	if evaluator == nil {
		evaluator = policy.NewEvaluator()
	}
	return &Engine{
		keys:      km,
		ctx:       ctx,
		policies:  policies,
		evaluator: evaluator,
		log:       log,
	}
}

// Sign authorizes req against the policy set and signs it.
//
// Errors:
//   - ErrAuthorizationDenied if no policy approves
//   - ErrNotSupported for message requests and segwit inputs
//   - pre-flight errors (ErrMissingNonWitnessUtxo, ErrNonStandardSighash,
//     ErrUtxoMismatch, ErrUnsupportedUtxoType, ErrInvalidRequest)
//
// On error the request's packet is unchanged.
func (e *Engine) Sign(req model.SigRequest) (model.SignedData, error) {
	if req == nil {
		return nil, model.NewError(model.CodeInvalidRequest, "nil request")
	}
	if r, ok := req.(model.PsbtRequest); ok && (r.Packet == nil || r.Packet.UnsignedTx == nil) {
		return nil, model.NewError(model.CodeInvalidRequest, "no transaction")
	}

	kind := req.SigType().String()
	id, approved := e.evaluator.Decide(e.policies, req)
	if !approved {
		e.log.Info().Str("kind", kind).Msg("request denied")
		return nil, model.ErrAuthorizationDenied
	}
	e.log.Debug().Str("kind", kind).Str("policy_id", id.Short()).Msg("request authorized")

	switch r := req.(type) {
	case model.PsbtRequest:
		return e.signPsbt(r)
	case model.MessageRequest:
		return nil, model.NewError(model.CodeNotSupported, "message signing")
	default:
		return nil, model.NewError(model.CodeInvalidRequest, "unknown request kind")
	}
}

func (e *Engine) signPsbt(r model.PsbtRequest) (model.SignedData, error) {
	inputs, err := preflight(r.Packet)
	if err != nil {
		e.log.Info().Str("code", string(model.CodeOf(err))).Err(err).Msg("pre-flight rejected psbt")
		return nil, err
	}

	pending, err := signLegacy(r.Packet, inputs, e.keys, e.ctx)
	if err != nil {
		e.log.Warn().Str("code", string(model.CodeOf(err))).Err(err).Msg("signing failed")
		return nil, err
	}
	applySigs(r.Packet, pending)

	e.log.Info().
		Int("inputs", len(inputs)).
		Int("signatures", len(pending)).
		Msg("signed psbt")

	return model.SignedPsbt{Packet: r.Packet, Signatures: len(pending)}, nil
}
