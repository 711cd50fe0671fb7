// Package identity computes the deterministic opportunity ID and the
// content fingerprint used for amendment detection.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/maplebid/rfp-finder/internal/models"
)

// Separator joins source and source_id into the global ID.
const Separator = ":"

// ErrInvalidIdentity marks a record whose source or source_id cannot
// form a stable ID. Callers reject the single record and continue.
var ErrInvalidIdentity = errors.New("invalid identity")

// ComputeID derives the globally unique opportunity ID from its source
// and source-native ID. The result is stable: the same pair always
// yields the same ID.
func ComputeID(source, sourceID string) (string, error) {
	if source == "" {
		return "", fmt.Errorf("%w: empty source", ErrInvalidIdentity)
	}
	if sourceID == "" {
		return "", fmt.Errorf("%w: empty source_id", ErrInvalidIdentity)
	}
	if strings.Contains(source, Separator) {
		return "", fmt.Errorf("%w: source %q contains separator", ErrInvalidIdentity, source)
	}
	if strings.Contains(sourceID, Separator) {
		return "", fmt.Errorf("%w: source_id %q contains separator", ErrInvalidIdentity, sourceID)
	}
	return source + Separator + sourceID, nil
}

// ContentHash fingerprints the fields that define a meaningful change:
// title, summary, closing date, amendment date, and the sorted list of
// attachment URLs. Records that differ only in other fields (status,
// last_seen_at, budget, ...) hash identically.
func ContentHash(opp models.Opportunity) string {
	urls := make([]string, 0, len(opp.Attachments))
	for _, att := range opp.Attachments {
		if att.URL != "" {
			urls = append(urls, att.URL)
		}
	}
	sort.Strings(urls)

	// Fixed-position tuple so the digest is independent of input field
	// ordering and of map iteration order.
	tuple := []interface{}{
		opp.Title,
		opp.Summary,
		canonicalTime(opp.ClosingAt),
		canonicalTime(opp.AmendedAt),
		urls,
	}

	payload, err := json.Marshal(tuple)
	if err != nil {
		// Marshal of strings and string slices cannot fail; keep the
		// fallback deterministic anyway.
		payload = []byte(opp.Title + "|" + opp.Summary)
	}

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func canonicalTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
