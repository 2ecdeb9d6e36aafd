package copyin

// LengthCache carries encoded sub-lengths between an encoder's two phases.
// During the length phase the encoder appends each computed sub-length with
// Add; before the write phase the cache is rewound, and the encoder consumes
// the same lengths in the same order with Get. The cache is cleared between
// values.
type LengthCache struct {
	lengths []int
	pos     int
}

// Add records a computed sub-length and returns it.
func (lc *LengthCache) Add(n int) int {
	lc.lengths = append(lc.lengths, n)
	return n
}

// Get consumes the next cached sub-length. Consumption order must mirror
// production order.
func (lc *LengthCache) Get() int {
	n := lc.lengths[lc.pos]
	lc.pos++
	return n
}

// Rewind resets the consumption cursor to the start.
func (lc *LengthCache) Rewind() {
	lc.pos = 0
}

// Clear empties the cache, keeping its backing storage for reuse.
func (lc *LengthCache) Clear() {
	lc.lengths = lc.lengths[:0]
	lc.pos = 0
}

// Len reports how many sub-lengths are cached.
func (lc *LengthCache) Len() int {
	return len(lc.lengths)
}
