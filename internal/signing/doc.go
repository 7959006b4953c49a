// Package signing validates and signs requests on behalf of a sealed vault.
//
// A transaction request passes through three stages:
//
//  1. Authorization: at least one stored policy must approve the request.
//  2. Pre-flight: every input is checked before anything is signed. Any
//     failure aborts the whole request and the packet is left untouched.
//  3. Signing: for every legacy input and every derivation hint that
//     belongs to the vault's master key, a child key is derived and a
//     SIGHASH_ALL signature is recorded as a partial signature.
//
// The packet is never finalized. Combining signatures from several signers
// into final scripts is left to an external finalizer.
//
// Message signing is declared but not implemented and fails with
// model.ErrNotSupported once authorized.
package signing
