// Package keys holds the master signing secret and everything that touches it.
//
// KeyMaterial wraps a BIP32 extended private key and derives child signing
// keys along derivation paths. SigningContext produces ECDSA signatures with
// RFC 6979 nonces that additionally commit to caller-supplied entropy.
//
// Secret hygiene:
//   - Wipe zeroes the extended key; a wiped KeyMaterial refuses all use
//   - Every intermediate extended key and every derived child key is zeroed
//     before the call that produced it returns, on success and error paths
//   - Nothing in this package logs or formats secret bytes
package keys
