package vault

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/rs/zerolog"

	"github.com/roach88/psbthsm/internal/policy"
)

type config struct {
	net        *chaincfg.Params
	policyLock bool
	log        zerolog.Logger
	evaluator  *policy.Evaluator
}

// Option configures a vault.
type Option func(*config)

// WithNetwork sets the chain the master key is derived for.
//
// Default: mainnet.
func WithNetwork(net *chaincfg.Params) Option {
	return func(c *config) {
		if net != nil {
			c.net = net
		}
	}
}

// WithPolicyLock forbids adding or removing policies while a key is
// loaded. Provisioning must then load policies before the seed.
func WithPolicyLock() Option {
	return func(c *config) {
		c.policyLock = true
	}
}

// WithLogger sets the logger for lifecycle and signing events.
//
// Default: zerolog.Nop().
func WithLogger(log zerolog.Logger) Option {
	return func(c *config) {
		c.log = log
	}
}

// WithEvaluator replaces the policy evaluator used after sealing.
//
// Default: policy.NewEvaluator for the configured network.
func WithEvaluator(e *policy.Evaluator) Option {
	return func(c *config) {
		c.evaluator = e
	}
}

func newConfig(opts []Option) config {
	c := config{
		net: &chaincfg.MainNetParams,
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.evaluator == nil {
		c.evaluator = policy.NewEvaluator(
			policy.WithNetwork(c.net),
			policy.WithLogger(c.log),
		)
	}
	return c
}
