package policy

import (
	"encoding/hex"

	"cuelang.org/go/cue"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/roach88/psbthsm/internal/model"
)

// requestFacts builds the Go form of the script environment for req.
//
// Fields whose value cannot be known from the request (an input value
// without a previous transaction that hashes to its outpoint, and therefore
// the fee) are omitted rather than zeroed, so a script that depends on them
// evaluates as incomplete and rejects.
func requestFacts(req model.SigRequest, net *chaincfg.Params) map[string]any {
	facts := map[string]any{
		"kind": req.SigType().String(),
	}

	switch r := req.(type) {
	case model.PsbtRequest:
		if r.Packet != nil && r.Packet.UnsignedTx != nil {
			facts["tx"] = transactionFacts(r.Packet, net)
		}
	case model.MessageRequest:
		facts["message"] = map[string]any{
			"text":   r.Text,
			"length": int64(len(r.Text)),
		}
	}

	return facts
}

func transactionFacts(p *psbt.Packet, net *chaincfg.Params) map[string]any {
	tx := p.UnsignedTx

	inputs := make([]any, 0, len(tx.TxIn))
	var inputTotal int64
	inputsKnown := true
	for i, txIn := range tx.TxIn {
		in := map[string]any{
			"txid":     txIn.PreviousOutPoint.Hash.String(),
			"vout":     int64(txIn.PreviousOutPoint.Index),
			"sequence": int64(txIn.Sequence),
		}

		var pin *psbt.PInput
		if i < len(p.Inputs) {
			pin = &p.Inputs[i]
			in["sighash"] = int64(pin.SighashType)
		}

		if value, ok := inputValue(pin, txIn.PreviousOutPoint); ok {
			in["value"] = value
			inputTotal += value
		} else {
			inputsKnown = false
		}
		inputs = append(inputs, in)
	}

	outputs := make([]any, 0, len(tx.TxOut))
	addresses := make([]any, 0, len(tx.TxOut))
	var outputTotal int64
	for _, txOut := range tx.TxOut {
		out := map[string]any{
			"value":  txOut.Value,
			"script": hex.EncodeToString(txOut.PkScript),
		}
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(txOut.PkScript, net)
		if err == nil && len(addrs) == 1 {
			addr := addrs[0].EncodeAddress()
			out["address"] = addr
			addresses = append(addresses, addr)
		}
		outputTotal += txOut.Value
		outputs = append(outputs, out)
	}

	facts := map[string]any{
		"version":      int64(tx.Version),
		"locktime":     int64(tx.LockTime),
		"input_count":  int64(len(tx.TxIn)),
		"output_count": int64(len(tx.TxOut)),
		"inputs":       inputs,
		"outputs":      outputs,
		"addresses":    addresses,
		"output_total": outputTotal,
	}
	if inputsKnown {
		facts["input_total"] = inputTotal
		facts["fee"] = inputTotal - outputTotal
	}
	return facts
}

// inputValue returns the amount spent by an input. Only a previous
// transaction that hashes to the outpoint is trusted; a witness utxo alone
// commits to nothing and is ignored.
func inputValue(pin *psbt.PInput, outpoint wire.OutPoint) (int64, bool) {
	if pin == nil || pin.NonWitnessUtxo == nil {
		return 0, false
	}
	prev := pin.NonWitnessUtxo
	if prev.TxHash() != outpoint.Hash || int(outpoint.Index) >= len(prev.TxOut) {
		return 0, false
	}
	return prev.TxOut[outpoint.Index].Value, true
}

// environment encodes the request facts as the CUE scope for script evaluation.
func environment(ctx *cue.Context, req model.SigRequest, net *chaincfg.Params) cue.Value {
	return ctx.Encode(map[string]any{
		"request": requestFacts(req, net),
	})
}
