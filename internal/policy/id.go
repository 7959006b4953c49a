package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/roach88/psbthsm/internal/model"
)

// Domain prefix for policy identifiers.
// Version suffix enables future layout migration.
const DomainPolicy = "psbthsm/policy/v1"

// PreimageVersion is the layout version byte following the domain separator.
const PreimageVersion byte = 0x01

// ID is the content-addressed identifier of a policy.
type ID [sha256.Size]byte

// Preimage returns the exact bytes hashed to produce a policy identifier.
//
// Layout (version 1):
//
//	"psbthsm/policy/v1" | 0x00 | 0x01 | kind (1 byte) | len(script) (uint32 big-endian) | script
//
// The null byte prevents domain/data boundary ambiguity. Script bytes are
// taken as-is; no normalisation happens here.
func Preimage(kind model.SigType, script string) []byte {
	var buf bytes.Buffer
	buf.Grow(len(DomainPolicy) + 1 + 1 + 1 + 4 + len(script))

	buf.WriteString(DomainPolicy)
	buf.WriteByte(0x00)
	buf.WriteByte(PreimageVersion)
	buf.WriteByte(byte(kind))

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(script)))
	buf.Write(length[:])
	buf.WriteString(script)

	return buf.Bytes()
}

// Identify computes the identifier of (kind, script).
func Identify(kind model.SigType, script string) ID {
	return ID(sha256.Sum256(Preimage(kind, script)))
}

// String returns the lowercase hex form of the identifier.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 12 hex characters, for logs.
func (id ID) Short() string {
	return id.String()[:12]
}

// CID returns the identifier as a CIDv1 using the raw codec and a sha2-256
// multihash. It addresses the same bytes as Preimage.
func (id ID) CID() string {
	mh, err := multihash.Encode(id[:], multihash.SHA2_256)
	if err != nil {
		// Encode only fails for unknown codes or bad digest lengths.
		return ""
	}
	return cid.NewCidV1(cid.Raw, mh).String()
}

// MarshalText implements encoding.TextMarshaler using the hex form.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Accepts hex or CID form.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseID parses an identifier in hex or CID form.
func ParseID(s string) (ID, error) {
	var id ID

	if len(s) == hex.EncodedLen(len(id)) {
		if raw, err := hex.DecodeString(s); err == nil {
			copy(id[:], raw)
			return id, nil
		}
	}

	c, err := cid.Decode(s)
	if err != nil {
		return id, fmt.Errorf("policy id %q: neither hex nor CID: %w", s, err)
	}
	if c.Type() != cid.Raw {
		return id, fmt.Errorf("policy id %q: codec %d, want raw", s, c.Type())
	}

	decoded, err := multihash.Decode(c.Hash())
	if err != nil {
		return id, fmt.Errorf("policy id %q: %w", s, err)
	}
	if decoded.Code != multihash.SHA2_256 || len(decoded.Digest) != len(id) {
		return id, fmt.Errorf("policy id %q: not a sha2-256 digest", s)
	}

	copy(id[:], decoded.Digest)
	return id, nil
}
