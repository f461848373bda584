// Package dedup provides the stable SMS fingerprint used as the primary
// transaction dedup key.
//
// Deduplication is two-tier: the primary key is this fingerprint of the
// normalized SMS body, enforced UNIQUE in storage; the fallback is a
// composite (wallet, date, amount) lookup in the store, which catches
// providers resending the same event with slightly different wording.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint hashes a normalized SMS body into the transaction sourceHash.
// Format: SHA256(lowercased, trimmed body). The body must already be
// whitespace-collapsed (see normalize.CleanText) so equivalent renderings of
// the same message hash identically.
func Fingerprint(normalizedBody string) string {
	input := strings.ToLower(strings.TrimSpace(normalizedBody))
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}
