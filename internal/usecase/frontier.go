package usecase

// compactThreshold is the number of consumed slots tolerated before the
// backing slice is compacted.
const compactThreshold = 1024

// Frontier is the FIFO queue of canonical URLs pending a visit.
// A URL already pending is not queued a second time.
type Frontier struct {
	items   []string
	head    int
	pending map[string]struct{}
}

// NewFrontier builds a frontier holding urls in order, dropping repeats.
func NewFrontier(urls []string) *Frontier {
	f := &Frontier{
		items:   make([]string, 0, len(urls)),
		pending: make(map[string]struct{}, len(urls)),
	}
	for _, u := range urls {
		f.Push(u)
	}
	return f
}

// Push appends u to the back of the queue. It reports false if u was already pending.
func (f *Frontier) Push(u string) bool {
	if _, ok := f.pending[u]; ok {
		return false
	}
	f.pending[u] = struct{}{}
	f.items = append(f.items, u)
	return true
}

// Pop removes and returns the front of the queue.
func (f *Frontier) Pop() (string, bool) {
	if f.head >= len(f.items) {
		return "", false
	}
	u := f.items[f.head]
	f.items[f.head] = ""
	f.head++
	delete(f.pending, u)

	if f.head >= compactThreshold && f.head*2 >= len(f.items) {
		remaining := make([]string, len(f.items)-f.head)
		copy(remaining, f.items[f.head:])
		f.items = remaining
		f.head = 0
	}
	return u, true
}

// Contains reports whether u is pending.
func (f *Frontier) Contains(u string) bool {
	_, ok := f.pending[u]
	return ok
}

func (f *Frontier) Len() int {
	return len(f.items) - f.head
}

// Snapshot returns a copy of the pending URLs in queue order.
func (f *Frontier) Snapshot() []string {
	out := make([]string, f.Len())
	copy(out, f.items[f.head:])
	return out
}
