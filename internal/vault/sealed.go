package vault

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/roach88/psbthsm/internal/keys"
	"github.com/roach88/psbthsm/internal/model"
	"github.com/roach88/psbthsm/internal/policy"
	"github.com/roach88/psbthsm/internal/signing"
)

// Sealed is a provisioned vault. Its key and policies never change.
type Sealed struct {
	mu       sync.RWMutex
	key      *keys.KeyMaterial
	ctx      *keys.SigningContext
	policies *policy.Store
	engine   *signing.Engine
	log      zerolog.Logger
	wiped    bool
}

func newSealed(km *keys.KeyMaterial, ctx *keys.SigningContext, policies *policy.Store, cfg config) *Sealed {
	return &Sealed{
		key:      km,
		ctx:      ctx,
		policies: policies,
		engine:   signing.NewEngine(km, ctx, policies, cfg.evaluator, cfg.log),
		log:      cfg.log,
	}
}

// Sign authorizes and signs req. See signing.Engine.Sign for errors.
//
// Safe for concurrent use with distinct requests.
func (s *Sealed) Sign(req model.SigRequest) (model.SignedData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.wiped {
		return nil, model.ErrInvalidState
	}
	return s.engine.Sign(req)
}

// Fingerprint returns the master key fingerprint.
func (s *Sealed) Fingerprint() uint32 {
	return s.key.Fingerprint()
}

// Policies returns the frozen policy set in insertion order.
func (s *Sealed) Policies() []policy.Policy {
	return s.policies.Policies()
}

// PolicyIDs returns the identifiers of the frozen policy set.
func (s *Sealed) PolicyIDs() []policy.ID {
	return s.policies.IDs()
}

// Wipe erases the key and signing context. Later Sign calls fail with
// ErrInvalidState. Safe to call more than once.
func (s *Sealed) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wiped {
		return
	}
	s.key.Wipe()
	s.ctx.Wipe()
	s.wiped = true
	s.log.Info().Msg("sealed vault wiped")
}
