// Package testutil provides deterministic fixtures for tests across packages.
//
// Fixtures are built from the BIP32 test vector 1 seed so key fingerprints,
// derived public keys and sighashes are stable between runs. Nothing here
// belongs in production code paths.
package testutil
