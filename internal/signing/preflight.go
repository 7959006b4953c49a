package signing

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"

	"github.com/roach88/psbthsm/internal/model"
)

// legacyInput is an input cleared for signing.
type legacyInput struct {
	index int

	// subscript is the script committed to by the legacy sighash: the
	// redeem script for P2SH spends, the previous output script otherwise.
	subscript []byte
}

// isFinalized reports whether an input already carries its final script.
func isFinalized(in *psbt.PInput) bool {
	return len(in.FinalScriptSig) > 0 || len(in.FinalScriptWitness) > 0
}

// preflight checks the whole packet and returns the inputs to sign.
//
// Checks run in passes so the reported error does not depend on input
// order: every input is checked for utxo presence before any sighash flag
// is inspected, and so on.
func preflight(p *psbt.Packet) ([]legacyInput, error) {
	if err := checkStructure(p); err != nil {
		return nil, err
	}

	for i := range p.Inputs {
		in := &p.Inputs[i]
		if !isFinalized(in) && in.NonWitnessUtxo == nil {
			return nil, model.InputError(model.CodeMissingNonWitnessUtxo, i, "")
		}
	}

	for i := range p.Inputs {
		in := &p.Inputs[i]
		if in.SighashType == txscript.SigHashAll {
			continue
		}
		if isFinalized(in) && in.SighashType == 0 {
			continue
		}
		return nil, model.InputError(model.CodeNonStandardSighash, i,
			fmt.Sprintf("sighash 0x%02x", uint32(in.SighashType)))
	}

	var inputs []legacyInput
	for i := range p.Inputs {
		in := &p.Inputs[i]
		if isFinalized(in) {
			continue
		}
		subscript, err := classify(p, i)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, legacyInput{index: i, subscript: subscript})
	}

	return inputs, nil
}

func checkStructure(p *psbt.Packet) error {
	if p == nil || p.UnsignedTx == nil {
		return model.NewError(model.CodeInvalidRequest, "no transaction")
	}
	if len(p.Inputs) != len(p.UnsignedTx.TxIn) {
		return model.NewError(model.CodeInvalidRequest,
			fmt.Sprintf("%d psbt inputs for %d transaction inputs", len(p.Inputs), len(p.UnsignedTx.TxIn)))
	}
	if len(p.Outputs) != len(p.UnsignedTx.TxOut) {
		return model.NewError(model.CodeInvalidRequest,
			fmt.Sprintf("%d psbt outputs for %d transaction outputs", len(p.Outputs), len(p.UnsignedTx.TxOut)))
	}
	if err := p.SanityCheck(); err != nil {
		return model.Wrap(model.CodeInvalidRequest, err)
	}
	return nil
}

// classify verifies the previous transaction of input i and decides how it
// is signed.
func classify(p *psbt.Packet, i int) ([]byte, error) {
	in := &p.Inputs[i]
	outpoint := p.UnsignedTx.TxIn[i].PreviousOutPoint

	prev := in.NonWitnessUtxo
	if prev.TxHash() != outpoint.Hash {
		return nil, model.InputError(model.CodeUtxoMismatch, i, "previous transaction does not match outpoint")
	}
	if int(outpoint.Index) >= len(prev.TxOut) {
		return nil, model.InputError(model.CodeUtxoMismatch, i,
			fmt.Sprintf("outpoint index %d out of range", outpoint.Index))
	}
	pkScript := prev.TxOut[outpoint.Index].PkScript

	if in.WitnessUtxo != nil && !bytes.Equal(in.WitnessUtxo.PkScript, pkScript) {
		return nil, model.InputError(model.CodeUtxoMismatch, i, "witness utxo disagrees with previous transaction")
	}
	if txscript.IsWitnessProgram(pkScript) || len(in.WitnessScript) > 0 {
		return nil, model.InputError(model.CodeNotSupported, i, "segwit input")
	}

	switch class := txscript.GetScriptClass(pkScript); class {
	case txscript.PubKeyHashTy, txscript.PubKeyTy, txscript.MultiSigTy:
		return pkScript, nil

	case txscript.ScriptHashTy:
		redeem := in.RedeemScript
		if len(redeem) == 0 {
			return nil, model.InputError(model.CodeUnsupportedUtxoType, i, "p2sh output without redeem script")
		}
		// OP_HASH160 <20 bytes> OP_EQUAL
		if !bytes.Equal(btcutil.Hash160(redeem), pkScript[2:22]) {
			return nil, model.InputError(model.CodeUtxoMismatch, i, "redeem script does not match p2sh output")
		}
		if txscript.IsWitnessProgram(redeem) {
			return nil, model.InputError(model.CodeNotSupported, i, "nested segwit input")
		}
		return redeem, nil

	default:
		return nil, model.InputError(model.CodeUnsupportedUtxoType, i, class.String())
	}
}
