package vault

import (
	"bytes"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/psbthsm/internal/model"
	"github.com/roach88/psbthsm/internal/policy"
	"github.com/roach88/psbthsm/internal/testutil"
)

var allowTransactions = policy.Policy{Kind: model.SigTypeTransaction, Script: `request.kind == "transaction"`}

func TestNewVaultIsEmpty(t *testing.T) {
	u := New()

	assert.False(t, u.HasKey())
	assert.Empty(t, u.Policies())
	assert.ErrorIs(t, u.ReadyToSeal(), model.ErrNoPrivKey)
}

func TestLoadSeedTwice(t *testing.T) {
	u := New()
	require.NoError(t, u.LoadSeed(testutil.Seed()))

	err := u.LoadSeed(testutil.OtherSeed())
	assert.ErrorIs(t, err, model.ErrKeySlotFull)

	fp, err := u.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, testutil.MasterFingerprint, fp, "first key unchanged")
}

func TestLoadSeedAnyLength(t *testing.T) {
	for _, n := range []int{8, 100} {
		u := New()

		require.NoError(t, u.LoadSeed(bytes.Repeat([]byte{0x5a}, n)), "seed length %d", n)
		assert.True(t, u.HasKey())
		assert.NoError(t, u.ReadyToSeal())
	}
}

func TestDeletePrivKey(t *testing.T) {
	u := New()
	require.NoError(t, u.DeletePrivKey(), "deleting with no key succeeds")

	require.NoError(t, u.LoadSeed(testutil.Seed()))
	require.NoError(t, u.DeletePrivKey())
	assert.False(t, u.HasKey())

	require.NoError(t, u.LoadSeed(testutil.OtherSeed()), "slot is free again")
	fp, err := u.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, testutil.MasterFingerprint, fp)
}

func TestSealWithoutKeyKeepsVaultUsable(t *testing.T) {
	u := New()
	id, err := u.LoadPolicy(allowTransactions)
	require.NoError(t, err)

	s, err := u.Seal(testutil.Entropy(1))
	assert.ErrorIs(t, err, model.ErrNoPrivKey)
	assert.Nil(t, s)

	require.NoError(t, u.LoadSeed(testutil.Seed()))
	s, err = u.Seal(testutil.Entropy(1))
	require.NoError(t, err)
	t.Cleanup(s.Wipe)

	assert.Equal(t, []policy.ID{id}, s.PolicyIDs())
	assert.Equal(t, testutil.MasterFingerprint, s.Fingerprint())
}

func TestSealConsumesUnsealed(t *testing.T) {
	u := New()
	require.NoError(t, u.LoadSeed(testutil.Seed()))
	s, err := u.Seal(testutil.Entropy(1))
	require.NoError(t, err)
	t.Cleanup(s.Wipe)

	assert.ErrorIs(t, u.LoadSeed(testutil.OtherSeed()), model.ErrInvalidState)
	assert.ErrorIs(t, u.DeletePrivKey(), model.ErrInvalidState)
	_, err = u.LoadPolicy(allowTransactions)
	assert.ErrorIs(t, err, model.ErrInvalidState)
	assert.ErrorIs(t, u.DeletePolicy(allowTransactions.ID()), model.ErrInvalidState)
	assert.ErrorIs(t, u.ReadyToSeal(), model.ErrInvalidState)
	_, err = u.Seal(testutil.Entropy(1))
	assert.ErrorIs(t, err, model.ErrInvalidState)
	assert.False(t, u.HasKey())
	assert.Nil(t, u.Policies())
}

func TestLoadPolicyDuplicate(t *testing.T) {
	u := New()
	_, err := u.LoadPolicy(allowTransactions)
	require.NoError(t, err)
	before := u.Policies()

	_, err = u.LoadPolicy(policy.Policy{Kind: allowTransactions.Kind, Script: allowTransactions.Script})
	assert.ErrorIs(t, err, model.ErrDuplicateEntry)
	assert.Equal(t, before, u.Policies())
}

func TestLoadPolicyInvalid(t *testing.T) {
	u := New()

	_, err := u.LoadPolicy(policy.Policy{Kind: model.SigTypeTransaction, Script: "request.tx.fee <"})
	assert.ErrorIs(t, err, model.ErrInvalidPolicy)
	assert.Empty(t, u.Policies())
}

func TestDeletePolicy(t *testing.T) {
	u := New()
	id, err := u.LoadPolicy(allowTransactions)
	require.NoError(t, err)

	assert.ErrorIs(t, u.DeletePolicy(policy.Identify(model.SigTypeMessage, "true")), model.ErrNotFound)
	assert.Equal(t, []policy.ID{id}, u.PolicyIDs(), "store unchanged")

	require.NoError(t, u.DeletePolicy(id))
	assert.Empty(t, u.PolicyIDs())
}

func TestPolicyLock(t *testing.T) {
	u := New(WithPolicyLock())
	id, err := u.LoadPolicy(allowTransactions)
	require.NoError(t, err)
	require.NoError(t, u.LoadSeed(testutil.Seed()))

	_, err = u.LoadPolicy(policy.Policy{Kind: model.SigTypeMessage, Script: "true"})
	assert.ErrorIs(t, err, model.ErrPolicyLocked)
	assert.ErrorIs(t, u.DeletePolicy(id), model.ErrPolicyLocked)
	assert.Len(t, u.Policies(), 1)

	require.NoError(t, u.DeletePrivKey())
	assert.NoError(t, u.DeletePolicy(id), "unlocked once the key is gone")
}

func TestPolicyUnlockedByDefault(t *testing.T) {
	u := New()
	require.NoError(t, u.LoadSeed(testutil.Seed()))

	_, err := u.LoadPolicy(allowTransactions)
	assert.NoError(t, err)
}

func TestSealedPoliciesAreFrozenCopy(t *testing.T) {
	u := New()
	require.NoError(t, u.LoadSeed(testutil.Seed()))
	_, err := u.LoadPolicy(allowTransactions)
	require.NoError(t, err)

	s, err := u.Seal(testutil.Entropy(1))
	require.NoError(t, err)
	t.Cleanup(s.Wipe)

	policies := s.Policies()
	policies[0].Script = "false"
	assert.Equal(t, allowTransactions, s.Policies()[0])
}

func sealedVault(t *testing.T, policies ...policy.Policy) *Sealed {
	t.Helper()

	u := New(WithNetwork(&chaincfg.MainNetParams), WithLogger(zerolog.Nop()))
	require.NoError(t, u.LoadSeed(testutil.Seed()))
	for _, p := range policies {
		_, err := u.LoadPolicy(p)
		require.NoError(t, err)
	}
	s, err := u.Seal(testutil.Entropy(0x5a))
	require.NoError(t, err)
	t.Cleanup(s.Wipe)
	return s
}

func buildPacket(t *testing.T) *psbt.Packet {
	t.Helper()

	km := testutil.MasterKey(t)
	return testutil.NewPsbt(t, km).
		Input(testutil.Path(t, "m/44'/0'/0'/0/0"), 40000).
		Input(testutil.Path(t, "m/44'/0'/0'/0/1"), 15000, testutil.WithExtraHint(testutil.Path(t, "m/44'/0'/0'/1/0"))).
		Build()
}

func TestEndToEndSign(t *testing.T) {
	s := sealedVault(t, allowTransactions)
	packet := buildPacket(t)
	unsignedTx := packet.UnsignedTx.Copy()

	result, err := s.Sign(model.PsbtRequest{Packet: packet})
	require.NoError(t, err)

	signed := result.(model.SignedPsbt)
	assert.Equal(t, 3, signed.Signatures)

	for i, in := range signed.Packet.Inputs {
		require.Len(t, in.PartialSigs, len(in.Bip32Derivation), "input %d", i)
		for j, hint := range in.Bip32Derivation {
			assert.True(t, bytes.Equal(hint.PubKey, in.PartialSigs[j].PubKey))
		}
		assert.Empty(t, in.FinalScriptSig)
		assert.Empty(t, in.FinalScriptWitness)
	}
	assert.Equal(t, unsignedTx, signed.Packet.UnsignedTx)
}

func TestEndToEndEmptyPolicySetDenies(t *testing.T) {
	s := sealedVault(t)

	_, err := s.Sign(model.PsbtRequest{Packet: buildPacket(t)})
	assert.ErrorIs(t, err, model.ErrAuthorizationDenied)

	_, err = s.Sign(model.MessageRequest{Text: "hello"})
	assert.ErrorIs(t, err, model.ErrAuthorizationDenied)
}

func TestSealedMessageNotSupported(t *testing.T) {
	s := sealedVault(t, policy.Policy{Kind: model.SigTypeMessage, Script: "true"})

	_, err := s.Sign(model.MessageRequest{Text: "hello"})
	assert.ErrorIs(t, err, model.ErrNotSupported)
}

func TestSealedAtomicPreflight(t *testing.T) {
	s := sealedVault(t, allowTransactions)

	km := testutil.MasterKey(t)
	packet := testutil.NewPsbt(t, km).
		Input(testutil.Path(t, "m/0"), 1000).
		Input(testutil.Path(t, "m/1"), 1000, testutil.WithoutUtxo()).
		Build()

	_, err := s.Sign(model.PsbtRequest{Packet: packet})
	assert.ErrorIs(t, err, model.ErrMissingNonWitnessUtxo)
	assert.Empty(t, packet.Inputs[0].PartialSigs)
}

func TestSealedWipe(t *testing.T) {
	s := sealedVault(t, allowTransactions)
	s.Wipe()
	s.Wipe()

	_, err := s.Sign(model.PsbtRequest{Packet: buildPacket(t)})
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestSealedConcurrentSign(t *testing.T) {
	s := sealedVault(t, allowTransactions)

	packets := make([]*psbt.Packet, 8)
	for i := range packets {
		packets[i] = buildPacket(t)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(packets))
	for i, p := range packets {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.Sign(model.PsbtRequest{Packet: p})
		}()
	}
	wg.Wait()

	for i := range packets {
		require.NoError(t, errs[i])
		assert.Equal(t, packets[0].Inputs[0].PartialSigs, packets[i].Inputs[0].PartialSigs,
			"same key, request and entropy give the same signature")
	}
}
