package activations

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashFingerprint derives the canonical machine fingerprint from hardware
// identifiers. The digest is SHA-256 over the pipe-joined components in this
// exact order, rendered as 64 lowercase hex characters. Desktop clients
// compute the same digest locally, so the format is frozen.
func HashFingerprint(cpuID, macAddress, diskSerial, osVersion string) string {
	joined := strings.Join([]string{cpuID, macAddress, diskSerial, osVersion}, "|")
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}
