package model

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

// SigType identifies the kind of signature a request asks for.
//
// The numeric value is the discriminant byte of the policy identifier
// pre-image. Never renumber.
type SigType uint8

const (
	// SigTypeTransaction covers partially signed bitcoin transactions.
	SigTypeTransaction SigType = 0x00

	// SigTypeMessage covers free-form text messages.
	SigTypeMessage SigType = 0x01
)

// String returns the text form used in policy files and script environments.
func (t SigType) String() string {
	switch t {
	case SigTypeTransaction:
		return "transaction"
	case SigTypeMessage:
		return "message"
	default:
		return fmt.Sprintf("SigType(%d)", uint8(t))
	}
}

// Valid reports whether t is a known signature kind.
func (t SigType) Valid() bool {
	return t == SigTypeTransaction || t == SigTypeMessage
}

// ParseSigType parses the text form of a signature kind.
func ParseSigType(s string) (SigType, error) {
	switch s {
	case "transaction":
		return SigTypeTransaction, nil
	case "message":
		return SigTypeMessage, nil
	default:
		return 0, fmt.Errorf("unknown signature kind %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t SigType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown signature kind %d", uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *SigType) UnmarshalText(text []byte) error {
	parsed, err := ParseSigType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// SigRequest is a request for a signature.
// Implemented by PsbtRequest and MessageRequest only.
type SigRequest interface {
	SigType() SigType
	isSigRequest()
}

// PsbtRequest asks for signatures on a partially signed transaction.
type PsbtRequest struct {
	Packet *psbt.Packet
}

// SigType implements SigRequest.
func (PsbtRequest) SigType() SigType { return SigTypeTransaction }

func (PsbtRequest) isSigRequest() {}

// MessageRequest asks for a signature over a text message.
type MessageRequest struct {
	Text string
}

// SigType implements SigRequest.
func (MessageRequest) SigType() SigType { return SigTypeMessage }

func (MessageRequest) isSigRequest() {}

// SignedData is the output of a successful signing request.
// Implemented by SignedPsbt and SignedMessage only.
type SignedData interface {
	SigType() SigType
	isSignedData()
}

// SignedPsbt is the request packet augmented with partial signatures.
// The packet is not finalized.
type SignedPsbt struct {
	Packet *psbt.Packet

	// Signatures is the number of partial signatures recorded.
	Signatures int
}

// SigType implements SignedData.
func (SignedPsbt) SigType() SigType { return SigTypeTransaction }

func (SignedPsbt) isSignedData() {}

// SignedMessage carries a message and its signature.
type SignedMessage struct {
	Text      string
	Signature []byte
}

// SigType implements SignedData.
func (SignedMessage) SigType() SigType { return SigTypeMessage }

func (SignedMessage) isSignedData() {}
