package deviceflow

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/wrale/phantom/internal/validation"
)

// deviceCodeBytes is the amount of randomness in a device code (256 bits)
const deviceCodeBytes = 32

// maxCharRepeats caps how often one character may appear in a user code
const maxCharRepeats = 2

// generateDeviceCode returns an opaque, hex encoded device code
func generateDeviceCode() (string, error) {
	b := make([]byte, deviceCodeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// selectRandomChar selects a random character from available set without modulo bias
func selectRandomChar(available []rune) (rune, error) {
	n := len(available)
	limit := 256 - (256 % n)

	b := make([]byte, 1)
	for {
		if _, err := rand.Read(b); err != nil {
			return 0, fmt.Errorf("generating random byte: %w", err)
		}
		// Reject values that would cause modulo bias
		if int(b[0]) >= limit {
			continue
		}
		return available[int(b[0])%n], nil
	}
}

// generateUserCode generates a user code in XXXX-XXXX form per RFC 8628 section 6.1
func generateUserCode() (string, error) {
	charset := []rune(validation.ValidCharset)
	freqs := make(map[rune]int, validation.CodeLength)

	var b strings.Builder
	for i := 0; i < validation.CodeLength; i++ {
		if i == validation.GroupSize {
			b.WriteString(validation.Separator)
		}

		available := make([]rune, 0, len(charset))
		for _, c := range charset {
			if freqs[c] < maxCharRepeats {
				available = append(available, c)
			}
		}

		c, err := selectRandomChar(available)
		if err != nil {
			return "", err
		}
		b.WriteRune(c)
		freqs[c]++
	}

	return b.String(), nil
}
