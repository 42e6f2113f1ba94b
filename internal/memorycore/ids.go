package memorycore

import (
	"math"
	"time"

	"github.com/fyrsmithlabs/memoryd/internal/identity"
)

// makeID derives a deterministic memory ID from tenant and text, so adding
// the same fact twice for the same org/agent resolves to the same point
// before dedupe-by-hash even runs.
func makeID(orgID, agentID, text string) string {
	return identity.MemoryID(orgID, agentID, text).String()
}

// computeHash is the stable digest used for write-time deduplication: two
// requests with identical tenant/user/text collapse to the same hash
// regardless of when they arrive.
func computeHash(orgID, agentID, userID, text string) string {
	return identity.DedupeHash(orgID, agentID, userID, text)
}

// defaultHalfLifeDays is the recency half-life applied when the caller
// doesn't specify one.
const defaultHalfLifeDays = 90

// applyTimeDecay exponentially decays score by age, halving every
// halfLifeDays. Ages are floored to whole days before the exponent is
// applied, matching the day-bucketed decay the reference service computes.
// Negative ages (clock skew) are clamped to zero so a record created "in the
// future" relative to now never gets a boosted score.
func applyTimeDecay(score float64, createdAt, now time.Time, halfLifeDays int) float64 {
	if halfLifeDays <= 0 {
		halfLifeDays = defaultHalfLifeDays
	}
	days := math.Floor(now.Sub(createdAt).Hours() / 24)
	if days < 0 {
		days = 0
	}
	decay := math.Pow(0.5, days/float64(halfLifeDays))
	return score * decay
}
