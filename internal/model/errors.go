package model

import (
	"errors"
	"fmt"
)

// Code categorizes module errors.
type Code string

const (
	// CodeKeyDerivation wraps a failure of master or child key derivation.
	CodeKeyDerivation Code = "KEY_DERIVATION"

	// CodeSignature wraps a failure to produce a signature.
	CodeSignature Code = "SIGNATURE"

	// CodeNoPrivKey indicates an operation needed key material that is absent.
	CodeNoPrivKey Code = "NO_PRIV_KEY"

	// CodeKeySlotFull indicates a seed load while a key is already present.
	CodeKeySlotFull Code = "KEY_SLOT_FULL"

	// CodeNotFound indicates a policy lookup miss.
	CodeNotFound Code = "NOT_FOUND"

	// CodeDuplicateEntry indicates a policy with the same identifier exists.
	CodeDuplicateEntry Code = "DUPLICATE_ENTRY"

	// CodeInvalidPolicy indicates a policy failed its local validity check.
	CodeInvalidPolicy Code = "INVALID_POLICY"

	// CodePolicyLocked indicates a policy mutation while key material is
	// loaded on a vault configured with WithPolicyLock.
	CodePolicyLocked Code = "POLICY_LOCKED"

	// CodeMissingNonWitnessUtxo indicates an unfinalized input without its
	// full previous transaction.
	CodeMissingNonWitnessUtxo Code = "MISSING_NON_WITNESS_UTXO"

	// CodeNonStandardSighash indicates an input whose sighash flag is not
	// SIGHASH_ALL.
	CodeNonStandardSighash Code = "NON_STANDARD_SIGHASH"

	// CodeUnsupportedUtxoType indicates an input whose previous output
	// cannot be signed: a script class other than p2pkh, p2pk, bare
	// multisig or p2sh, or a p2sh output without its redeem script.
	CodeUnsupportedUtxoType Code = "UNSUPPORTED_UTXO_TYPE"

	// CodeUtxoMismatch indicates previous transaction data that does not
	// match the outpoint it is supposed to describe.
	CodeUtxoMismatch Code = "UTXO_MISMATCH"

	// CodeInvalidRequest indicates a structurally malformed signing request.
	CodeInvalidRequest Code = "INVALID_REQUEST"

	// CodeAuthorizationDenied indicates no stored policy approved the request.
	CodeAuthorizationDenied Code = "AUTHORIZATION_DENIED"

	// CodeNotSupported indicates a declared but unbuilt signing path.
	CodeNotSupported Code = "NOT_SUPPORTED"

	// CodeInvalidState indicates a call on a consumed or wiped vault value.
	CodeInvalidState Code = "INVALID_STATE"

	// CodeUnknown is reported by CodeOf for errors outside the taxonomy.
	CodeUnknown Code = "UNKNOWN"
)

var messages = map[Code]string{
	CodeKeyDerivation:         "key derivation failed",
	CodeSignature:             "signature generation failed",
	CodeNoPrivKey:             "no private key",
	CodeKeySlotFull:           "a key already exists and cannot be overwritten",
	CodeNotFound:              "entry was not found",
	CodeDuplicateEntry:        "entry already exists and may not be duplicated",
	CodeInvalidPolicy:         "policy is not valid",
	CodePolicyLocked:          "policies cannot be changed while a key is loaded",
	CodeMissingNonWitnessUtxo: "the non_witness_utxo field is required to sign this input",
	CodeNonStandardSighash:    "input uses a sighash type other than SIGHASH_ALL",
	CodeUnsupportedUtxoType:   "input carries no known utxo type",
	CodeUtxoMismatch:          "non_witness_utxo does not match the spent outpoint",
	CodeInvalidRequest:        "malformed signing request",
	CodeAuthorizationDenied:   "no policy authorized the request",
	CodeNotSupported:          "signing mode is not supported",
	CodeInvalidState:          "operation is not valid in the current vault state",
}

// Error is the single error type surfaced by the module.
//
// Two Errors match under errors.Is when their codes are equal, so callers
// compare against the sentinels below regardless of the input index or the
// wrapped cause.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Input is the PSBT input index the error refers to, or -1.
	Input int

	// Detail is an optional human-readable refinement.
	Detail string

	// Err is the underlying collaborator error, if any.
	Err error
}

// Sentinel errors, one per code.
var (
	ErrKeyDerivation         = &Error{Code: CodeKeyDerivation, Input: -1}
	ErrSignature             = &Error{Code: CodeSignature, Input: -1}
	ErrNoPrivKey             = &Error{Code: CodeNoPrivKey, Input: -1}
	ErrKeySlotFull           = &Error{Code: CodeKeySlotFull, Input: -1}
	ErrNotFound              = &Error{Code: CodeNotFound, Input: -1}
	ErrDuplicateEntry        = &Error{Code: CodeDuplicateEntry, Input: -1}
	ErrInvalidPolicy         = &Error{Code: CodeInvalidPolicy, Input: -1}
	ErrPolicyLocked          = &Error{Code: CodePolicyLocked, Input: -1}
	ErrMissingNonWitnessUtxo = &Error{Code: CodeMissingNonWitnessUtxo, Input: -1}
	ErrNonStandardSighash    = &Error{Code: CodeNonStandardSighash, Input: -1}
	ErrUnsupportedUtxoType   = &Error{Code: CodeUnsupportedUtxoType, Input: -1}
	ErrUtxoMismatch          = &Error{Code: CodeUtxoMismatch, Input: -1}
	ErrInvalidRequest        = &Error{Code: CodeInvalidRequest, Input: -1}
	ErrAuthorizationDenied   = &Error{Code: CodeAuthorizationDenied, Input: -1}
	ErrNotSupported          = &Error{Code: CodeNotSupported, Input: -1}
	ErrInvalidState          = &Error{Code: CodeInvalidState, Input: -1}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := messages[e.Code]
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Input >= 0 {
		msg = fmt.Sprintf("%s (input %d)", msg, e.Input)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the wrapped collaborator error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates an Error for code with an optional detail message.
func NewError(code Code, detail string) *Error {
	return &Error{Code: code, Input: -1, Detail: detail}
}

// Wrap creates an Error for code wrapping a collaborator error.
func Wrap(code Code, err error) *Error {
	return &Error{Code: code, Input: -1, Err: err}
}

// InputError creates an Error for code attributed to a PSBT input.
func InputError(code Code, input int, detail string) *Error {
	return &Error{Code: code, Input: input, Detail: detail}
}

// CodeOf extracts the code from err.
// Returns CodeUnknown if err is not an *Error, and "" if err is nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
