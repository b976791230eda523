package text

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint returns a stable content hash of a chunk's normalized text,
// case-folded and whitespace-collapsed so that whitespace-only or casing-only
// edits do not produce a new fingerprint.
func Fingerprint(s string) string {
	folded := strings.ToLower(s)
	collapsed := strings.Join(strings.Fields(folded), " ")
	sum := sha256.Sum256([]byte(collapsed))
	return hex.EncodeToString(sum[:])
}

// DocumentHash returns the content hash recorded on a document for
// change detection across re-ingests. Whitespace-collapsed but case-sensitive:
// a casing change is a real content change at document granularity.
func DocumentHash(s string) string {
	collapsed := strings.Join(strings.Fields(s), " ")
	sum := sha256.Sum256([]byte(collapsed))
	return hex.EncodeToString(sum[:])
}
