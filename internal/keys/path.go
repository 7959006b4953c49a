package keys

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// ParsePath parses a BIP32 derivation path such as "m/44'/0'/0'/0/7".
// Hardened components may be marked with ' or h. The leading "m" is optional.
func ParsePath(s string) ([]uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty derivation path")
	}

	parts := strings.Split(s, "/")
	if parts[0] == "m" || parts[0] == "M" {
		parts = parts[1:]
	}

	path := make([]uint32, 0, len(parts))
	for i, part := range parts {
		hardened := false
		if strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h") || strings.HasSuffix(part, "H") {
			hardened = true
			part = part[:len(part)-1]
		}

		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("path component %d: %q is not an index", i, parts[i])
		}
		if n >= hdkeychain.HardenedKeyStart {
			return nil, fmt.Errorf("path component %d: index %d out of range", i, n)
		}

		index := uint32(n)
		if hardened {
			index += hdkeychain.HardenedKeyStart
		}
		path = append(path, index)
	}

	return path, nil
}

// FormatPath renders path in "m/44'/0'/0'/0/7" form.
func FormatPath(path []uint32) string {
	var b strings.Builder
	b.WriteString("m")
	for _, index := range path {
		b.WriteByte('/')
		if index >= hdkeychain.HardenedKeyStart {
			b.WriteString(strconv.FormatUint(uint64(index-hdkeychain.HardenedKeyStart), 10))
			b.WriteByte('\'')
			continue
		}
		b.WriteString(strconv.FormatUint(uint64(index), 10))
	}
	return b.String()
}
