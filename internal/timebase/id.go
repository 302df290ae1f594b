package timebase

import "sync/atomic"

var idCounter atomic.Int64

// NewID returns the next monotonically increasing id. Ids are unique
// within a process and start at 1.
func NewID() int64 {
	return idCounter.Add(1)
}

// BumpID raises the id counter so that subsequently assigned ids are
// all greater than id. Used when restoring objects with persisted ids.
func BumpID(id int64) {
	for {
		cur := idCounter.Load()
		if cur >= id {
			return
		}
		if idCounter.CompareAndSwap(cur, id) {
			return
		}
	}
}
