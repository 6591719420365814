package messagebus

// historyRing is a fixed-capacity ring of the most recently published
// messages, oldest first. It is guarded by the bus mutex.
type historyRing struct {
	buf   []Message
	head  int
	count int
}

func newHistoryRing(capacity int) *historyRing {
	if capacity < 1 {
		capacity = 1
	}
	return &historyRing{buf: make([]Message, capacity)}
}

// append stores a message, evicting the oldest when full.
func (r *historyRing) append(m Message) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = m
		r.count++
		return
	}
	r.buf[r.head] = m
	r.head = (r.head + 1) % len(r.buf)
}

// snapshot returns the retained messages oldest first. A positive limit
// restricts the result to the newest limit messages.
func (r *historyRing) snapshot(limit int) []Message {
	out := make([]Message, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (r *historyRing) length() int {
	return r.count
}
