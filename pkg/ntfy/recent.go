package ntfy

// recentIDs remembers the last N forwarded message IDs so a replay after reconnect
// (since=<id>) never forwards the same notification twice.
type recentIDs struct {
	ring  []string
	next  int
	index map[string]struct{}
}

func newRecentIDs(size int) *recentIDs {
	if size <= 0 {
		size = 1
	}

	return &recentIDs{
		ring:  make([]string, size),
		index: make(map[string]struct{}, size),
	}
}

func (r *recentIDs) Contains(id string) bool {
	if id == "" {
		return false
	}

	_, ok := r.index[id]
	return ok
}

func (r *recentIDs) Add(id string) {
	if id == "" || r.Contains(id) {
		return
	}

	if evicted := r.ring[r.next]; evicted != "" {
		delete(r.index, evicted)
	}

	r.ring[r.next] = id
	r.index[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ring)
}
