package auth

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/medvault/medvault/internal/platform/apperr"
)

// NormalizeWallet validates an externally supplied wallet address and
// returns its lower-case form. With strict set, a mixed-case address must
// carry a valid EIP-55 checksum; all-lower and all-upper input carries no
// checksum and is accepted either way.
func NormalizeWallet(raw string, strict bool) (string, error) {
	addr := strings.TrimSpace(raw)
	if addr == "" {
		return "", apperr.Validation("wallet address required")
	}
	if len(addr) != 42 || !(strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X")) {
		return "", apperr.Validation("wallet address must be 0x followed by 40 hex characters")
	}
	body := addr[2:]
	if _, err := hex.DecodeString(body); err != nil {
		return "", apperr.Validation("wallet address must be 0x followed by 40 hex characters")
	}

	lower := strings.ToLower(body)
	if strict && body != lower && body != strings.ToUpper(body) {
		if ChecksumAddress(lower) != "0x"+body {
			return "", apperr.Validation("wallet address checksum mismatch")
		}
	}
	return "0x" + lower, nil
}

// ChecksumAddress renders a 40-char lower-case hex address in EIP-55
// mixed case.
func ChecksumAddress(lowerHex string) string {
	lowerHex = strings.TrimPrefix(strings.ToLower(lowerHex), "0x")
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lowerHex))
	digest := h.Sum(nil)

	out := []byte(lowerHex)
	for i, ch := range out {
		if ch < 'a' || ch > 'f' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if nibble >= 8 {
			out[i] = ch - 'a' + 'A'
		}
	}
	return "0x" + string(out)
}
