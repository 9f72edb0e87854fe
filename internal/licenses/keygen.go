package licenses

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

const (
	keyPrefix   = "REPHLO"
	keySeparator = "-"
	keyGroups    = 4
	keyGroupLen  = 4
)

// keyAlphabet holds the 32 symbols license keys draw from. Visually ambiguous
// characters (0, O, 1, I) are excluded so keys survive being read aloud or
// retyped from an email.
const keyAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// generateKey draws one candidate license key from the provided entropy
// source. 32 symbols divide 256 evenly, so the byte-modulo mapping is unbiased.
func generateKey(entropy io.Reader) (string, error) {
	if entropy == nil {
		entropy = rand.Reader
	}

	raw := make([]byte, keyGroups*keyGroupLen)
	if _, err := io.ReadFull(entropy, raw); err != nil {
		return "", fmt.Errorf("reading key entropy: %w", err)
	}

	var b strings.Builder
	b.WriteString(keyPrefix)
	for i, c := range raw {
		if i%keyGroupLen == 0 {
			b.WriteString(keySeparator)
		}
		b.WriteByte(keyAlphabet[int(c)%len(keyAlphabet)])
	}
	return b.String(), nil
}
