// Package color assigns stable cursor colors to participants within a
// single room hub (§4.6 C7). Deliberately per-hub-instance state rather than
// a package-level index, per the redesign that drops the module-level color
// index in favor of state owned by the hub goroutine that uses it.
package color

// Palette is the fixed 8-entry set of cursor colors cycled through.
var Palette = [8]string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8",
	"#f58231", "#911eb4", "#46f0f0", "#f032e6",
}

// Allocator hands out colors from Palette, reusing a color freed by Release
// before handing out a fresh one. Not safe for concurrent use: callers
// that need concurrency safety get it for free by only calling an Allocator
// from the single goroutine that owns a room hub.
type Allocator struct {
	assigned map[string]int // user_id -> palette index
	free     []int
}

func NewAllocator() *Allocator {
	free := make([]int, len(Palette))
	for i := range free {
		free[i] = len(Palette) - 1 - i // nextIndex takes the lowest free index, so Allocate walks the palette in order
	}
	return &Allocator{
		assigned: make(map[string]int),
		free:     free,
	}
}

// Allocate returns the color assigned to userID, assigning a new one via
// first-fit reuse of the smallest freed index if none exists yet.
func (a *Allocator) Allocate(userID string) string {
	if idx, ok := a.assigned[userID]; ok {
		return Palette[idx]
	}

	idx := a.nextIndex()
	a.assigned[userID] = idx
	return Palette[idx]
}

func (a *Allocator) nextIndex() int {
	if len(a.free) == 0 {
		// Every color in use; most rooms have far fewer than 8 concurrent
		// editors, but colors simply repeat rather than failing.
		return len(a.assigned) % len(Palette)
	}

	// First-fit: always reuse the lowest freed index.
	best := 0
	for i, idx := range a.free {
		if idx < a.free[best] {
			best = i
		}
	}
	idx := a.free[best]
	a.free = append(a.free[:best], a.free[best+1:]...)
	return idx
}

// Release frees userID's color for reuse by the next Allocate call.
func (a *Allocator) Release(userID string) {
	idx, ok := a.assigned[userID]
	if !ok {
		return
	}
	delete(a.assigned, userID)
	a.free = append(a.free, idx)
}
