package syncer

import "time"

// ComputeSince returns the lower time bound to request from an adapter.
// The first sync pulls ceilingDays of history. Later syncs resume one second
// after the watermark, but never reach further back than the ceiling.
func ComputeSince(now time.Time, lastSync *time.Time, ceilingDays int) time.Time {
	floor := now.Add(-time.Duration(ceilingDays) * 24 * time.Hour)
	if lastSync == nil {
		return floor
	}
	next := lastSync.Add(time.Second)
	if next.After(floor) {
		return next
	}
	return floor
}
