package awareness

import "time"

// remoteEntry tracks the highest datagram clock accepted so far for one
// peer client, plus when it was last seen (for stale eviction).
type remoteEntry struct {
	clock    uint32
	lastSeen time.Time
}

// remoteTable is the remote-clock table: mapping peer client id to the
// highest accepted clock. Entries are added on first-seen, cleared on
// destroy. Not safe for concurrent use; callers serialize access
// (Pipeline's mutex).
type remoteTable struct {
	entries map[uint32]remoteEntry
}

func newRemoteTable() *remoteTable {
	return &remoteTable{entries: make(map[uint32]remoteEntry)}
}

// accept reports whether clock is newer than the recorded clock for
// clientID (strictly greater; duplicates and reorders are rejected) and,
// if so, records it.
func (t *remoteTable) accept(clientID, clock uint32, now time.Time) bool {
	e, ok := t.entries[clientID]
	if ok && clock <= e.clock {
		return false
	}
	t.entries[clientID] = remoteEntry{clock: clock, lastSeen: now}
	return true
}

// stale returns the client ids whose last-seen timestamp exceeds
// threshold as of now.
func (t *remoteTable) stale(now time.Time, threshold time.Duration) []uint32 {
	var out []uint32
	for id, e := range t.entries {
		if now.Sub(e.lastSeen) > threshold {
			out = append(out, id)
		}
	}
	return out
}

func (t *remoteTable) evict(id uint32) {
	delete(t.entries, id)
}

func (t *remoteTable) clear() {
	t.entries = make(map[uint32]remoteEntry)
}
