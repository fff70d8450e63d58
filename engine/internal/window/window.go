// Package window computes the [from, to) time window for a sync attempt.
//
// The cursor is the RFC 3339 upper bound of the last successful window.
// Each new window starts overlap before the cursor, so late-arriving
// records and clock skew on the remote API are re-fetched; the domain
// routines upsert by natural key, so the overlap is harmless.
package window

import "time"

// Compute turns a stored cursor into a concrete window ending at now.
//
// A cursor that parses as RFC 3339 yields from = cursor - overlap. An
// absent or unparseable cursor triggers a full backfill window, not a
// short overlap-only one: from = now - backfill. from never lands after
// to: a cursor ahead of now (a clock step-back between cycles larger
// than the overlap) collapses to an empty window rather than an
// inverted one.
func Compute(cursor string, now time.Time, overlap, backfill time.Duration) (from, to time.Time) {
	to = now
	if cursor != "" {
		if t, err := time.Parse(time.RFC3339, cursor); err == nil {
			from = t.Add(-overlap)
			if from.After(to) {
				from = to
			}
			return from, to
		}
	}
	return now.Add(-backfill), to
}

// Clamp bounds a window to at most max by narrowing to. from is never
// moved: a clamped run still starts where the cursor says, and the next
// cycle resumes from the clamped to. max <= 0 disables clamping.
func Clamp(from, to time.Time, max time.Duration) (time.Time, time.Time) {
	if max > 0 && to.Sub(from) > max {
		to = from.Add(max)
	}
	return from, to
}

// Cursor formats a window bound as the canonical cursor string. Fixed
// UTC second precision keeps cursor strings lexicographically ordered in
// time, which the store relies on for its monotonicity guard.
func Cursor(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}
