// Package model provides the shared vocabulary of the signing module.
//
// This package contains type definitions only: signature kinds, signing
// requests and results, and the error taxonomy. All other internal packages
// import model; model imports nothing internal.
//
// Key design constraints:
//   - Every failure surfaced by the module is a *Error with a stable Code
//   - AuthorizationDenied and NotSupported are distinct codes and must stay so
//   - SigType discriminants are part of the policy identifier pre-image and
//     must never be renumbered
package model
