// Package catalog persists policies in a SQLite database.
//
// The catalog is the provisioning source for a vault: policies are added
// with Put, reviewed with List, and copied into an Unsealed vault with
// LoadInto before sealing. The vault itself never touches storage.
//
// Rows are keyed by policy identifier. Because identifiers are content
// addresses, every read recomputes the identifier from the stored kind and
// script and fails if it differs, so a tampered row can never reach a vault
// under the identifier an operator approved.
package catalog
