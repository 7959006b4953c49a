package vault

import (
	"fmt"

	"github.com/roach88/psbthsm/internal/keys"
	"github.com/roach88/psbthsm/internal/model"
	"github.com/roach88/psbthsm/internal/policy"
)

// Unsealed is a vault being provisioned.
//
// INVARIANTS:
//   - At most one key is loaded
//   - Policy identifiers are unique
//   - A failed call leaves the vault unchanged
//   - After a successful Seal every method fails with ErrInvalidState
type Unsealed struct {
	cfg      config
	key      *keys.KeyMaterial
	policies *policy.Store
	sealed   bool
}

// New creates an empty Unsealed vault.
func New(opts ...Option) *Unsealed {
	return &Unsealed{
		cfg:      newConfig(opts),
		policies: policy.NewStore(),
	}
}

// LoadSeed derives the master key from seed.
//
// The seed may have any length. Returns ErrKeySlotFull if a key is already
// loaded (the existing key is kept) and ErrKeyDerivation if the seed hashes
// to an invalid master key.
func (u *Unsealed) LoadSeed(seed []byte) error {
	if u.sealed {
		return model.ErrInvalidState
	}
	if u.key != nil {
		return model.ErrKeySlotFull
	}

	km, err := keys.NewMaster(seed, u.cfg.net)
	if err != nil {
		return err
	}
	u.key = km

	u.cfg.log.Info().
		Str("fingerprint", FormatFingerprint(km.Fingerprint())).
		Msg("seed loaded")
	return nil
}

// DeletePrivKey wipes and removes the loaded key, if any.
func (u *Unsealed) DeletePrivKey() error {
	if u.sealed {
		return model.ErrInvalidState
	}
	if u.key != nil {
		u.key.Wipe()
		u.key = nil
		u.cfg.log.Info().Msg("key deleted")
	}
	return nil
}

// HasKey reports whether a key is loaded.
func (u *Unsealed) HasKey() bool {
	return !u.sealed && u.key != nil
}

// Fingerprint returns the fingerprint of the loaded key.
func (u *Unsealed) Fingerprint() (uint32, error) {
	if err := u.ReadyToSeal(); err != nil {
		return 0, err
	}
	return u.key.Fingerprint(), nil
}

// LoadPolicy validates p and adds it, returning its identifier.
//
// Errors: ErrInvalidPolicy, ErrDuplicateEntry, and ErrPolicyLocked when
// the vault was created WithPolicyLock and a key is loaded.
func (u *Unsealed) LoadPolicy(p policy.Policy) (policy.ID, error) {
	if u.sealed {
		return policy.ID{}, model.ErrInvalidState
	}
	if u.cfg.policyLock && u.key != nil {
		return policy.ID{}, model.ErrPolicyLocked
	}
	if err := p.Validate(); err != nil {
		return policy.ID{}, err
	}

	id, err := u.policies.Add(p)
	if err != nil {
		return id, err
	}

	u.cfg.log.Info().
		Str("policy_id", id.Short()).
		Str("kind", p.Kind.String()).
		Msg("policy loaded")
	return id, nil
}

// DeletePolicy removes the policy with identifier id.
//
// Errors: ErrNotFound, and ErrPolicyLocked as for LoadPolicy.
func (u *Unsealed) DeletePolicy(id policy.ID) error {
	if u.sealed {
		return model.ErrInvalidState
	}
	if u.cfg.policyLock && u.key != nil {
		return model.ErrPolicyLocked
	}
	if err := u.policies.Remove(id); err != nil {
		return err
	}

	u.cfg.log.Info().Str("policy_id", id.Short()).Msg("policy deleted")
	return nil
}

// Policies returns the loaded policies in insertion order.
func (u *Unsealed) Policies() []policy.Policy {
	if u.sealed {
		return nil
	}
	return u.policies.Policies()
}

// PolicyIDs returns the identifiers of the loaded policies.
func (u *Unsealed) PolicyIDs() []policy.ID {
	if u.sealed {
		return nil
	}
	return u.policies.IDs()
}

// ReadyToSeal reports whether Seal would succeed.
func (u *Unsealed) ReadyToSeal() error {
	if u.sealed {
		return model.ErrInvalidState
	}
	if u.key == nil {
		return model.ErrNoPrivKey
	}
	return nil
}

// Seal freezes the vault and returns a value that can only sign.
//
// Signing nonces are derived with entropy as additional data, so the same
// key, request and entropy reproduce the same signatures.
//
// On error u is unchanged and may be fixed and sealed again. On success u
// is consumed: its key and policies move to the returned Sealed.
func (u *Unsealed) Seal(entropy [32]byte) (*Sealed, error) {
	if err := u.ReadyToSeal(); err != nil {
		return nil, err
	}

	s := newSealed(u.key, keys.NewSigningContext(entropy), u.policies.Clone(), u.cfg)

	u.key = nil
	u.policies = policy.NewStore()
	u.sealed = true

	u.cfg.log.Info().
		Str("fingerprint", FormatFingerprint(s.Fingerprint())).
		Int("policies", s.policies.Len()).
		Msg("vault sealed")
	return s, nil
}

// FormatFingerprint renders a fingerprint in the byte order used by
// descriptors and wallets.
func FormatFingerprint(fp uint32) string {
	return fmt.Sprintf("%02x%02x%02x%02x", byte(fp), byte(fp>>8), byte(fp>>16), byte(fp>>24))
}
