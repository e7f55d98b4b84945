package sources

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/TobiSchelling/reviewpulse/internal/feedback"
)

// ContentID derives a stable external id from content that identifies an
// item, so repeated fetches of the same content map to the same row.
func ContentID(p feedback.Platform, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(p))
	for _, part := range parts {
		h.Write([]byte{0})
		h.Write([]byte(strings.TrimSpace(part)))
	}
	return strings.ToLower(string(p)) + "_" + hex.EncodeToString(h.Sum(nil))[:24]
}
