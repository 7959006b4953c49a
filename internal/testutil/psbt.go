package testutil

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/roach88/psbthsm/internal/keys"
)

type prevKind int

const (
	prevP2PKH prevKind = iota
	prevP2WPKH
	prevCustom
)

type inputSpec struct {
	path      []uint32
	value     int64
	sighash   txscript.SigHashType
	prev      prevKind
	script    []byte
	noUtxo    bool
	finalized bool
	noHint    bool
	extra     [][]uint32
	mismatch  bool
}

// InputOption adjusts one fixture input.
type InputOption func(*inputSpec)

// WithSighash sets the declared sighash flag (default SIGHASH_ALL).
func WithSighash(h txscript.SigHashType) InputOption {
	return func(s *inputSpec) { s.sighash = h }
}

// WithoutUtxo omits the previous transaction.
func WithoutUtxo() InputOption {
	return func(s *inputSpec) { s.noUtxo = true }
}

// WithWitnessPrevout makes the spent output a P2WPKH output and also
// records it as the witness utxo.
func WithWitnessPrevout() InputOption {
	return func(s *inputSpec) { s.prev = prevP2WPKH }
}

// WithPrevScript makes the spent output pay to script.
func WithPrevScript(script []byte) InputOption {
	return func(s *inputSpec) {
		s.prev = prevCustom
		s.script = script
	}
}

// Finalized attaches a final scriptSig, clears the sighash flag and drops
// the previous transaction.
func Finalized() InputOption {
	return func(s *inputSpec) {
		s.finalized = true
		s.noUtxo = true
		s.sighash = 0
	}
}

// WithoutHint leaves the input without a derivation hint.
func WithoutHint() InputOption {
	return func(s *inputSpec) { s.noHint = true }
}

// WithExtraHint adds a second derivation hint for path.
func WithExtraHint(path []uint32) InputOption {
	return func(s *inputSpec) { s.extra = append(s.extra, path) }
}

// WithMismatchedUtxo attaches a previous transaction that does not hash to
// the spent outpoint.
func WithMismatchedUtxo() InputOption {
	return func(s *inputSpec) { s.mismatch = true }
}

// PsbtBuilder assembles partially signed transactions whose inputs spend
// outputs controlled by a KeyMaterial.
type PsbtBuilder struct {
	t       testing.TB
	km      *keys.KeyMaterial
	net     *chaincfg.Params
	inputs  []inputSpec
	outputs []*wire.TxOut
}

// NewPsbt starts a fixture for km on mainnet.
func NewPsbt(t testing.TB, km *keys.KeyMaterial) *PsbtBuilder {
	return &PsbtBuilder{t: t, km: km, net: &chaincfg.MainNetParams}
}

// Input adds an input spending value satoshis locked to the key at path.
func (b *PsbtBuilder) Input(path []uint32, value int64, opts ...InputOption) *PsbtBuilder {
	spec := inputSpec{path: path, value: value, sighash: txscript.SigHashAll}
	for _, opt := range opts {
		opt(&spec)
	}
	b.inputs = append(b.inputs, spec)
	return b
}

// Output adds an output paying value satoshis to pkScript.
func (b *PsbtBuilder) Output(value int64, pkScript []byte) *PsbtBuilder {
	b.outputs = append(b.outputs, wire.NewTxOut(value, pkScript))
	return b
}

// Build returns the packet. Without explicit outputs a single output pays
// 10000 satoshis to DestinationScript.
func (b *PsbtBuilder) Build() *psbt.Packet {
	b.t.Helper()

	tx := wire.NewMsgTx(2)
	prevs := make([]*wire.MsgTx, len(b.inputs))
	for i, spec := range b.inputs {
		prev := b.prevTx(i, spec)
		prevs[i] = prev
		tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: prev.TxHash(), Index: 0}, nil, nil))
	}

	outputs := b.outputs
	if len(outputs) == 0 {
		outputs = []*wire.TxOut{wire.NewTxOut(10000, DestinationScript(b.t))}
	}
	for _, out := range outputs {
		tx.AddTxOut(out)
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(b.t, err)

	for i, spec := range b.inputs {
		in := &packet.Inputs[i]
		in.SighashType = spec.sighash

		if spec.finalized {
			in.FinalScriptSig = []byte{txscript.OP_TRUE}
			continue
		}
		if !spec.noUtxo {
			in.NonWitnessUtxo = prevs[i]
			if spec.mismatch {
				other := prevs[i].Copy()
				other.LockTime++
				in.NonWitnessUtxo = other
			}
		}
		if spec.prev == prevP2WPKH {
			in.WitnessUtxo = prevs[i].TxOut[0]
		}
		if !spec.noHint {
			in.Bip32Derivation = append(in.Bip32Derivation, b.hint(spec.path))
		}
		for _, path := range spec.extra {
			in.Bip32Derivation = append(in.Bip32Derivation, b.hint(path))
		}
	}

	return packet
}

func (b *PsbtBuilder) prevTx(i int, spec inputSpec) *wire.MsgTx {
	var script []byte
	switch spec.prev {
	case prevCustom:
		script = spec.script
	case prevP2WPKH:
		s, err := txscript.NewScriptBuilder().
			AddOp(txscript.OP_0).
			AddData(btcutil.Hash160(b.pubKey(spec.path))).
			Script()
		require.NoError(b.t, err)
		script = s
	default:
		addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(b.pubKey(spec.path)), b.net)
		require.NoError(b.t, err)
		s, err := txscript.PayToAddrScript(addr)
		require.NoError(b.t, err)
		script = s
	}

	prev := wire.NewMsgTx(1)
	funding := chainhash.Hash{byte(i + 1)}
	prev.AddTxIn(wire.NewTxIn(&wire.OutPoint{Hash: funding, Index: uint32(i)}, []byte{txscript.OP_TRUE}, nil))
	prev.AddTxOut(wire.NewTxOut(spec.value, script))
	return prev
}

func (b *PsbtBuilder) pubKey(path []uint32) []byte {
	pub, err := b.km.PublicKey(path)
	require.NoError(b.t, err)
	return pub.SerializeCompressed()
}

func (b *PsbtBuilder) hint(path []uint32) *psbt.Bip32Derivation {
	return &psbt.Bip32Derivation{
		PubKey:               b.pubKey(path),
		MasterKeyFingerprint: b.km.Fingerprint(),
		Bip32Path:            path,
	}
}

// DestinationScript returns a fixed P2PKH output script unrelated to Seed.
func DestinationScript(t testing.TB) []byte {
	t.Helper()

	addr, err := btcutil.NewAddressPubKeyHash(DestinationHash[:], &chaincfg.MainNetParams)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	return script
}

// DestinationHash is the pubkey hash behind DestinationScript.
var DestinationHash = [20]byte{
	0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11,
	0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11, 0x11,
}
