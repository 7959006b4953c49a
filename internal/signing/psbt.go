package signing

import (
	"bytes"
	"errors"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"

	"github.com/roach88/psbthsm/internal/keys"
	"github.com/roach88/psbthsm/internal/model"
)

// pendingSig is a signature computed but not yet written to the packet.
type pendingSig struct {
	input int
	sig   *psbt.PartialSig
}

// signLegacy computes a SIGHASH_ALL signature for every derivation hint
// owned by km on every cleared input. Nothing is written to p.
func signLegacy(p *psbt.Packet, inputs []legacyInput, km *keys.KeyMaterial, ctx *keys.SigningContext) ([]pendingSig, error) {
	var pending []pendingSig

	for _, li := range inputs {
		in := &p.Inputs[li.index]

		for _, hint := range in.Bip32Derivation {
			if hint.MasterKeyFingerprint != km.Fingerprint() {
				continue
			}

			sig, err := signHint(p, li, hint, km, ctx)
			if err != nil {
				return nil, err
			}
			pending = append(pending, pendingSig{input: li.index, sig: sig})
		}
	}

	return pending, nil
}

func signHint(p *psbt.Packet, li legacyInput, hint *psbt.Bip32Derivation, km *keys.KeyMaterial, ctx *keys.SigningContext) (*psbt.PartialSig, error) {
	priv, err := km.Derive(hint.Bip32Path)
	if err != nil {
		return nil, inputCause(model.CodeKeyDerivation, li.index, err)
	}
	defer priv.Zero()

	pub := priv.PubKey().SerializeCompressed()
	if len(hint.PubKey) > 0 && !bytes.Equal(hint.PubKey, pub) {
		return nil, model.InputError(model.CodeInvalidRequest, li.index,
			"derivation hint "+keys.FormatPath(hint.Bip32Path)+" does not match its public key")
	}

	hash, err := txscript.CalcSignatureHash(li.subscript, txscript.SigHashAll, p.UnsignedTx, li.index)
	if err != nil {
		return nil, inputCause(model.CodeSignature, li.index, err)
	}

	sig, err := ctx.Sign(priv, hash)
	if err != nil {
		return nil, inputCause(model.CodeSignature, li.index, err)
	}

	return &psbt.PartialSig{
		PubKey:    pub,
		Signature: append(sig.Serialize(), byte(txscript.SigHashAll)),
	}, nil
}

// applySigs records each pending signature, replacing any existing partial
// signature for the same public key.
func applySigs(p *psbt.Packet, pending []pendingSig) {
	for _, ps := range pending {
		in := &p.Inputs[ps.input]

		replaced := false
		for j, existing := range in.PartialSigs {
			if bytes.Equal(existing.PubKey, ps.sig.PubKey) {
				in.PartialSigs[j] = ps.sig
				replaced = true
				break
			}
		}
		if !replaced {
			in.PartialSigs = append(in.PartialSigs, ps.sig)
		}
	}
}

func inputCause(code model.Code, input int, err error) *model.Error {
	if errors.Is(err, model.ErrInvalidState) {
		return model.ErrInvalidState
	}
	return &model.Error{Code: code, Input: input, Err: err}
}
