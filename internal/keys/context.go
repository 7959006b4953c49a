package keys

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	secp "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/roach88/psbthsm/internal/model"
)

// entropyTag separates context entropy from any other use of the same bytes.
const entropyTag = "psbthsm/sigctx/v1"

// SigningContext produces ECDSA signatures over secp256k1.
//
// Nonces follow RFC 6979 with the context entropy supplied as additional
// data: two contexts built from the same entropy produce identical
// signatures, and without the entropy the nonce cannot be predicted even by
// someone who knows the key and the digest.
//
// A SigningContext is immutable after construction and safe for concurrent use.
type SigningContext struct {
	extra [32]byte
	wiped bool
}

// NewSigningContext seeds a context with caller-supplied entropy.
func NewSigningContext(entropy [32]byte) *SigningContext {
	h := sha256.New()
	h.Write([]byte(entropyTag))
	h.Write([]byte{0x00})
	h.Write(entropy[:])

	ctx := &SigningContext{}
	copy(ctx.extra[:], h.Sum(nil))
	return ctx
}

// Sign signs the 32-byte digest hash with priv.
// The returned signature is low-S normalised.
func (c *SigningContext) Sign(priv *btcec.PrivateKey, hash []byte) (*ecdsa.Signature, error) {
	if c == nil || c.wiped {
		return nil, model.ErrInvalidState
	}
	if len(hash) != sha256.Size {
		return nil, model.NewError(model.CodeSignature, "digest must be 32 bytes")
	}
	if priv.Key.IsZero() {
		return nil, model.NewError(model.CodeSignature, "private key is zero")
	}

	keyBytes := priv.Key.Bytes()
	defer zero(keyBytes[:])

	var e secp.ModNScalar
	e.SetByteSlice(hash)

	for iteration := uint32(0); ; iteration++ {
		k := secp.NonceRFC6979(keyBytes[:], hash, c.extra[:], nil, iteration)

		var point secp.JacobianPoint
		secp.ScalarBaseMultNonConst(k, &point)
		point.ToAffine()

		var r secp.ModNScalar
		r.SetBytes(point.X.Bytes())
		if r.IsZero() {
			k.Zero()
			continue
		}

		kInv := new(secp.ModNScalar).InverseValNonConst(k)
		k.Zero()

		s := new(secp.ModNScalar).Mul2(&priv.Key, &r).Add(&e).Mul(kInv)
		kInv.Zero()
		if s.IsZero() {
			continue
		}
		if s.IsOverHalfOrder() {
			s.Negate()
		}

		return ecdsa.NewSignature(&r, s), nil
	}
}

// Wipe erases the context entropy. A wiped context refuses to sign.
func (c *SigningContext) Wipe() {
	if c == nil {
		return
	}
	zero(c.extra[:])
	c.wiped = true
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
