package bufferpool

import "github.com/tdnguyen/minirel/pkg/clockx"

// Replacer decides which frame to evict when the pool is full. The
// pool reports accesses and pin transitions; the policy keeps its own
// state per frame index.
type Replacer interface {
	// RecordAccess marks a frame as recently used.
	RecordAccess(frameID int)

	// SetEvictable marks whether a frame may be chosen as a victim
	// (pin count == 0).
	SetEvictable(frameID int, evictable bool)

	// Evict returns a victim frame index, or ok == false when every
	// frame is unevictable.
	Evict() (int, bool)

	// Remove drops a frame from tracking (freed without eviction).
	Remove(frameID int)

	// Size is the number of currently evictable frames.
	Size() int
}

type clockAdapter struct {
	c *clockx.Clock
}

func newClockAdapter(capacity int) Replacer {
	return &clockAdapter{c: clockx.New(capacity)}
}

func (a *clockAdapter) RecordAccess(frameID int) {
	a.c.Touch(frameID)
}

func (a *clockAdapter) SetEvictable(frameID int, e bool) {
	a.c.SetEvictable(frameID, e)
}

func (a *clockAdapter) Evict() (int, bool) {
	return a.c.Evict()
}

func (a *clockAdapter) Remove(frameID int) {
	a.c.Remove(frameID)
}

func (a *clockAdapter) Size() int {
	return a.c.Size()
}
