// Package policy stores authorization policies and decides whether a signing
// request is permitted.
//
// A Policy pairs a signature kind with a CUE script. Its identifier is the
// SHA-256 digest of a pinned, versioned byte layout (see Preimage), so two
// independent implementations derive the same ID for the same policy.
//
// Evaluation compiles the script against an environment describing the
// pending request. A policy approves only when the script evaluates to the
// concrete boolean true; anything else (false, non-boolean, incomplete,
// compile error) is a rejection. A request is authorized when any stored
// policy approves it.
//
// Scripts see one top-level identifier, request:
//
//	request.kind == "transaction" && request.tx.fee <= 10000
//	list.Contains(request.tx.addresses, "1BoatSLRHtKNngkdXEeobR76b53LETtpyT")
//	request.kind == "message" && strings.HasPrefix(request.message.text, "login:")
//
// CUE builtin packages (list, strings, math, ...) resolve without an import.
package policy
