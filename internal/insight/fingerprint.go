package insight

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/clinsight/platform/internal/shared/types"
)

// NormalizeQuery canonicalizes free-text queries before hashing: lowercase,
// leading/trailing whitespace stripped, internal runs of whitespace collapsed
// to one space. Two queries differing only in casing or spacing share a
// fingerprint.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// Fingerprint derives the deterministic cache key for a generation request.
// The data version is part of the key, so a scope whose underlying signals
// changed naturally misses the cache without any active invalidation.
func Fingerprint(query string, scope types.EntityRef, dataVersion int64) string {
	h := sha256.New()
	h.Write([]byte(NormalizeQuery(query)))
	h.Write([]byte{0})
	h.Write([]byte(scope.Key()))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(dataVersion, 10)))
	return hex.EncodeToString(h.Sum(nil))
}
