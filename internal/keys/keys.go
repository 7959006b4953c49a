package keys

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/roach88/psbthsm/internal/model"
)

// KeyMaterial is a BIP32 extended private key owned by a vault.
//
// Not safe for concurrent Wipe; Derive and Fingerprint may be called
// concurrently as long as no goroutine wipes the key.
type KeyMaterial struct {
	xpriv       *hdkeychain.ExtendedKey
	fingerprint uint32
}

// NewMaster derives the master extended key from seed as BIP32 specifies:
// HMAC-SHA512 keyed with "Bitcoin seed", left half the key, right half the
// chain code.
//
// The seed may have any length; hdkeychain.NewMaster would limit it to 16
// to 64 bytes. The seed is read, never retained. ErrKeyDerivation is
// returned only when the left half is not a valid secp256k1 scalar.
func NewMaster(seed []byte, net *chaincfg.Params) (*KeyMaterial, error) {
	if net == nil {
		net = &chaincfg.MainNetParams
	}

	mac := hmac.New(sha512.New, []byte("Bitcoin seed"))
	_, _ = mac.Write(seed)
	lr := mac.Sum(nil)
	secret, chainCode := lr[:32], lr[32:]

	var scalar btcec.ModNScalar
	overflow := scalar.SetByteSlice(secret)
	zeroScalar := scalar.IsZero()
	scalar.Zero()
	if overflow || zeroScalar {
		zero(lr)
		return nil, model.Wrap(model.CodeKeyDerivation, hdkeychain.ErrUnusableSeed)
	}

	xpriv := hdkeychain.NewExtendedKey(net.HDPrivateKeyID[:], secret, chainCode, []byte{0, 0, 0, 0}, 0, 0, true)

	pub, err := xpriv.ECPubKey()
	if err != nil {
		xpriv.Zero()
		return nil, model.Wrap(model.CodeKeyDerivation, err)
	}

	return &KeyMaterial{
		xpriv:       xpriv,
		fingerprint: fingerprintOf(pub),
	}, nil
}

// fingerprintOf returns the BIP32 key fingerprint in the little-endian
// uint32 form used by psbt.Bip32Derivation.MasterKeyFingerprint.
func fingerprintOf(pub *btcec.PublicKey) uint32 {
	return binary.LittleEndian.Uint32(btcutil.Hash160(pub.SerializeCompressed())[:4])
}

// Fingerprint returns the master key fingerprint.
func (k *KeyMaterial) Fingerprint() uint32 {
	return k.fingerprint
}

// Wiped reports whether the key has been erased.
func (k *KeyMaterial) Wiped() bool {
	return k == nil || k.xpriv == nil
}

// Derive walks path from the master key and returns the child private key.
//
// The caller owns the returned key and must Zero it when done. All
// intermediate extended keys are zeroed before Derive returns.
func (k *KeyMaterial) Derive(path []uint32) (*btcec.PrivateKey, error) {
	if k.Wiped() {
		return nil, model.ErrInvalidState
	}

	current := k.xpriv
	release := func() {
		if current != k.xpriv {
			current.Zero()
		}
	}

	for depth, index := range path {
		child, err := current.Derive(index)
		if err != nil {
			release()
			return nil, model.Wrap(model.CodeKeyDerivation, fmt.Errorf("depth %d: %w", depth, err))
		}
		release()
		current = child
	}

	priv, err := current.ECPrivKey()
	release()
	if err != nil {
		return nil, model.Wrap(model.CodeKeyDerivation, err)
	}
	return priv, nil
}

// PublicKey returns the public key at path.
func (k *KeyMaterial) PublicKey(path []uint32) (*btcec.PublicKey, error) {
	priv, err := k.Derive(path)
	if err != nil {
		return nil, err
	}
	defer priv.Zero()
	return priv.PubKey(), nil
}

// Wipe zeroes the extended key. Safe to call more than once.
func (k *KeyMaterial) Wipe() {
	if k == nil || k.xpriv == nil {
		return
	}
	k.xpriv.Zero()
	k.xpriv = nil
}
