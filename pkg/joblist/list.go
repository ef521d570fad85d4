// Package joblist provides List, an indexable double-ended sequence used by
// the queue engine to hold job payloads, callbacks and type tags.
//
// Removal from the front advances a cursor instead of shifting elements, and
// the consumed prefix is reclaimed in place once it grows past half of the
// backing slice. Slots taken out of the middle of the list are left behind as
// tombstones; they are skipped as soon as they reach the front so the first
// slot of a non-empty List is always live.
package joblist

const (
	// compactMin is the smallest consumed prefix worth copying down.
	compactMin = 64
	// growMin is the minimum headroom added in front of the list when
	// Prepend runs out of freed slots.
	growMin = 16
)

type slot[T any] struct {
	v    T
	live bool
}

// List is an indexable deque with tombstone support.
// The zero value is an empty list ready to use. List is not safe for
// concurrent use.
type List[T any] struct {
	slots []slot[T]
	head  int
}

// New returns an empty List with room for capacity elements.
func New[T any](capacity int) *List[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &List[T]{slots: make([]slot[T], 0, capacity)}
}

// Len returns the logical length of the list, tombstones included.
func (l *List[T]) Len() int {
	return len(l.slots) - l.head
}

// IsEmpty reports whether the list has no slots left.
func (l *List[T]) IsEmpty() bool {
	return l.Len() == 0
}

// Append adds v at the back of the list.
func (l *List[T]) Append(v T) {
	l.slots = append(l.slots, slot[T]{v: v, live: true})
}

// Prepend adds v at the front of the list, reusing a slot freed by
// RemoveFront when one is available.
func (l *List[T]) Prepend(v T) {
	if l.head == 0 {
		l.growFront()
	}
	l.head--
	l.slots[l.head] = slot[T]{v: v, live: true}
}

func (l *List[T]) growFront() {
	n := l.Len()
	room := n / 2
	if room < growMin {
		room = growMin
	}
	s := make([]slot[T], room+n, room+n+cap(l.slots)-len(l.slots))
	copy(s[room:], l.slots[l.head:])
	l.slots = s
	l.head = room
}

// RemoveFront removes and returns the first element. It reports false when
// the list is empty.
func (l *List[T]) RemoveFront() (v T, ok bool) {
	if l.IsEmpty() {
		return v, false
	}
	s := l.slots[l.head]
	l.slots[l.head] = slot[T]{}
	l.head++
	l.skipTombstones()
	return s.v, s.live
}

// PeekFront returns the first element without removing it.
func (l *List[T]) PeekFront() (T, bool) {
	return l.PeekAt(0)
}

// PeekAt returns the element at logical position i. It reports false when i
// is out of range or the slot is a tombstone.
func (l *List[T]) PeekAt(i int) (v T, ok bool) {
	if i < 0 || i >= l.Len() {
		return v, false
	}
	s := l.slots[l.head+i]
	return s.v, s.live
}

// SetAt replaces the element at logical position i, reviving the slot if it
// was a tombstone. It reports false when i is out of range.
func (l *List[T]) SetAt(i int, v T) bool {
	if i < 0 || i >= l.Len() {
		return false
	}
	l.slots[l.head+i] = slot[T]{v: v, live: true}
	return true
}

// Clear turns the slot at logical position i into a tombstone. Positions of
// the other elements are unchanged unless i is the front, in which case the
// front advances past every leading tombstone.
func (l *List[T]) Clear(i int) bool {
	if i < 0 || i >= l.Len() {
		return false
	}
	l.slots[l.head+i] = slot[T]{}
	if i == 0 {
		l.skipTombstones()
	}
	return true
}

// Compact moves the live region to the start of the backing slice and
// resets the cursor. It never allocates.
func (l *List[T]) Compact() {
	if l.head == 0 {
		return
	}
	n := copy(l.slots, l.slots[l.head:])
	clear(l.slots[n:])
	l.slots = l.slots[:n]
	l.head = 0
}

func (l *List[T]) skipTombstones() {
	for l.head < len(l.slots) && !l.slots[l.head].live {
		l.head++
	}
	if l.head == len(l.slots) {
		l.slots = l.slots[:0]
		l.head = 0
		return
	}
	if l.head >= compactMin && l.head > len(l.slots)/2 {
		l.Compact()
	}
}
