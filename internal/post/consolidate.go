package post

import "sort"

// Consolidate picks the newest non-pinned snapshot from everything observed
// across the sampling passes.
//
// Snapshots are deduplicated by RawTime keeping the first one seen, so a
// pinned first observation suppresses later copies of the same item. Pinned
// and timestamp-less items are then dropped and the rest ordered newest first.
// The sort is stable: equal instants with distinct raw strings keep their
// observation order.
func Consolidate(snaps []Snapshot) (Snapshot, bool) {
	seen := make(map[string]struct{}, len(snaps))
	eligible := make([]Snapshot, 0, len(snaps))

	for _, s := range snaps {
		if s.RawTime == "" || s.Timestamp.IsZero() {
			continue
		}
		if _, dup := seen[s.RawTime]; dup {
			continue
		}
		seen[s.RawTime] = struct{}{}
		if s.IsPinned {
			continue
		}
		eligible = append(eligible, s)
	}

	if len(eligible) == 0 {
		return Snapshot{}, false
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Timestamp.After(eligible[j].Timestamp)
	})
	return eligible[0], true
}
