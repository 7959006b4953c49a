package keys

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/psbthsm/internal/model"
)

// BIP32 test vector 1.
const vector1Seed = "000102030405060708090a0b0c0d0e0f"

func mustSeed(t *testing.T, s string) []byte {
	t.Helper()
	seed, err := hex.DecodeString(s)
	require.NoError(t, err)
	return seed
}

func TestNewMasterFingerprint(t *testing.T) {
	km, err := NewMaster(mustSeed(t, vector1Seed), &chaincfg.MainNetParams)
	require.NoError(t, err)

	// Identifier of the vector 1 master key starts with 3442193e.
	assert.Equal(t, uint32(0x3e194234), km.Fingerprint())
}

func TestNewMasterAcceptsAnySeedLength(t *testing.T) {
	seen := make(map[uint32]int)
	for _, n := range []int{0, 1, 8, 15, 65, 100, 256} {
		seed := bytes.Repeat([]byte{0xa5}, n)

		km, err := NewMaster(seed, nil)
		require.NoError(t, err, "seed length %d", n)
		assert.False(t, km.Wiped())

		_, err = km.PublicKey([]uint32{0})
		require.NoError(t, err)

		prev, dup := seen[km.Fingerprint()]
		assert.False(t, dup, "seed lengths %d and %d share a fingerprint", prev, n)
		seen[km.Fingerprint()] = n
	}
}

func TestNewMasterMatchesHdkeychain(t *testing.T) {
	for _, n := range []int{16, 32, 64} {
		seed := bytes.Repeat([]byte{byte(n)}, n)

		want, err := hdkeychain.NewMaster(seed, &chaincfg.TestNet3Params)
		require.NoError(t, err)
		got, err := NewMaster(seed, &chaincfg.TestNet3Params)
		require.NoError(t, err)

		assert.Equal(t, want.String(), got.xpriv.String(), "seed length %d", n)
	}
}

func TestDeriveMatchesVector(t *testing.T) {
	km, err := NewMaster(mustSeed(t, vector1Seed), nil)
	require.NoError(t, err)

	pub, err := km.PublicKey([]uint32{hdkeychain.HardenedKeyStart})
	require.NoError(t, err)
	assert.Equal(t,
		"035a784662a4a20a65bf6aab9ae98a6c068a81c52e4b032c0fb5400c706cfccc56",
		hex.EncodeToString(pub.SerializeCompressed()),
	)
}

func TestDeriveIsDeterministic(t *testing.T) {
	km, err := NewMaster(mustSeed(t, vector1Seed), nil)
	require.NoError(t, err)

	path, err := ParsePath("m/44'/0'/0'/0/3")
	require.NoError(t, err)

	a, err := km.Derive(path)
	require.NoError(t, err)
	b, err := km.Derive(path)
	require.NoError(t, err)
	assert.Equal(t, a.Serialize(), b.Serialize())

	other, err := km.Derive(path[:4])
	require.NoError(t, err)
	assert.NotEqual(t, a.Serialize(), other.Serialize())
}

func TestDeriveLeavesMasterIntact(t *testing.T) {
	km, err := NewMaster(mustSeed(t, vector1Seed), nil)
	require.NoError(t, err)

	before, err := km.PublicKey(nil)
	require.NoError(t, err)

	_, err = km.Derive([]uint32{1, 2, 3})
	require.NoError(t, err)

	after, err := km.PublicKey(nil)
	require.NoError(t, err)
	assert.Equal(t, before.SerializeCompressed(), after.SerializeCompressed())
}

func TestWipe(t *testing.T) {
	km, err := NewMaster(mustSeed(t, vector1Seed), nil)
	require.NoError(t, err)

	km.Wipe()
	assert.True(t, km.Wiped())

	_, err = km.Derive([]uint32{0})
	assert.ErrorIs(t, err, model.ErrInvalidState)

	km.Wipe() // second call is a no-op
}

func TestParsePath(t *testing.T) {
	const h = hdkeychain.HardenedKeyStart

	tests := []struct {
		in   string
		want []uint32
	}{
		{"m", []uint32{}},
		{"m/0", []uint32{0}},
		{"m/44'/0'/0'/0/7", []uint32{44 + h, h, h, 0, 7}},
		{"m/84h/1h/2", []uint32{84 + h, 1 + h, 2}},
		{"0/1", []uint32{0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePath(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePathErrors(t *testing.T) {
	for _, in := range []string{"", "m/x", "m/1/-2", "m/2147483648", "m//1"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParsePath(in)
			assert.Error(t, err)
		})
	}
}

func TestFormatPathRoundTrip(t *testing.T) {
	for _, in := range []string{"m", "m/0", "m/44'/0'/0'/1/9"} {
		path, err := ParsePath(in)
		require.NoError(t, err)
		assert.Equal(t, in, FormatPath(path))
	}
}

func TestSigningContextSignsVerifiably(t *testing.T) {
	km, err := NewMaster(mustSeed(t, vector1Seed), nil)
	require.NoError(t, err)
	priv, err := km.Derive([]uint32{0})
	require.NoError(t, err)

	hash := sha256.Sum256([]byte("spend"))
	ctx := NewSigningContext([32]byte{1})

	sig, err := ctx.Sign(priv, hash[:])
	require.NoError(t, err)
	assert.True(t, sig.Verify(hash[:], priv.PubKey()))
}

func TestSigningContextReproducibleForSameEntropy(t *testing.T) {
	km, err := NewMaster(mustSeed(t, vector1Seed), nil)
	require.NoError(t, err)
	priv, err := km.Derive([]uint32{0})
	require.NoError(t, err)
	hash := sha256.Sum256([]byte("spend"))

	a, err := NewSigningContext([32]byte{7}).Sign(priv, hash[:])
	require.NoError(t, err)
	b, err := NewSigningContext([32]byte{7}).Sign(priv, hash[:])
	require.NoError(t, err)
	c, err := NewSigningContext([32]byte{8}).Sign(priv, hash[:])
	require.NoError(t, err)

	assert.Equal(t, a.Serialize(), b.Serialize(), "same entropy, same signature")
	assert.NotEqual(t, a.Serialize(), c.Serialize(), "entropy feeds the nonce")
	assert.True(t, c.Verify(hash[:], priv.PubKey()))
}

func TestSigningContextRejects(t *testing.T) {
	km, err := NewMaster(mustSeed(t, vector1Seed), nil)
	require.NoError(t, err)
	priv, err := km.Derive(nil)
	require.NoError(t, err)

	ctx := NewSigningContext([32]byte{})

	_, err = ctx.Sign(priv, []byte("short"))
	assert.ErrorIs(t, err, model.ErrSignature)

	ctx.Wipe()
	hash := sha256.Sum256(nil)
	_, err = ctx.Sign(priv, hash[:])
	assert.ErrorIs(t, err, model.ErrInvalidState)
}
