package testutil

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/roach88/psbthsm/internal/keys"
)

// SeedHex is the BIP32 test vector 1 seed.
const SeedHex = "000102030405060708090a0b0c0d0e0f"

// MasterFingerprint is the fingerprint of the SeedHex master key as stored
// in psbt.Bip32Derivation (little-endian uint32 of 3442193e).
const MasterFingerprint uint32 = 0x3e194234

// Seed returns a fresh copy of the test vector seed.
func Seed() []byte {
	seed, err := hex.DecodeString(SeedHex)
	if err != nil {
		panic(err)
	}
	return seed
}

// OtherSeed returns a second valid seed unrelated to Seed.
func OtherSeed() []byte {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(0xa0 + i)
	}
	return seed
}

// Entropy returns 32 bytes all equal to fill.
func Entropy(fill byte) [32]byte {
	var e [32]byte
	for i := range e {
		e[i] = fill
	}
	return e
}

// MasterKey derives mainnet key material from Seed.
// The key is wiped when the test ends.
func MasterKey(t testing.TB) *keys.KeyMaterial {
	t.Helper()

	km, err := keys.NewMaster(Seed(), &chaincfg.MainNetParams)
	require.NoError(t, err)
	t.Cleanup(km.Wipe)
	return km
}

// Path parses a derivation path or fails the test.
func Path(t testing.TB, s string) []uint32 {
	t.Helper()

	path, err := keys.ParsePath(s)
	require.NoError(t, err)
	return path
}
