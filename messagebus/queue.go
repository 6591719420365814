package messagebus

import "sync"

type queueState int

const (
	queueOpen queueState = iota
	queueDraining
	queueClosed
)

// messageQueue is the bounded FIFO buffer behind a long-poll subscription.
// On overflow the oldest message is dropped so publishers never block.
// A closed queue rejects further enqueues silently.
type messageQueue struct {
	mu       sync.Mutex
	items    []Message
	capacity int
	state    queueState
	overflow uint64
	wake     chan struct{}
}

func newMessageQueue(capacity int) *messageQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &messageQueue{
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

// enqueue appends a message, dropping the oldest one when the queue is full.
// It reports whether a message was dropped.
func (q *messageQueue) enqueue(m Message) (dropped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == queueClosed {
		return false
	}
	if len(q.items) >= q.capacity {
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
		q.overflow++
		dropped = true
	}
	q.items = append(q.items, m)
	q.notify()
	return dropped
}

// drain removes and returns all queued messages in FIFO order.
func (q *messageQueue) drain() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == queueClosed || len(q.items) == 0 {
		return nil
	}
	q.state = queueDraining
	items := q.items
	q.items = nil
	q.state = queueOpen
	return items
}

// close transitions the queue to its terminal state and wakes any waiter.
func (q *messageQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.state == queueClosed {
		return
	}
	q.state = queueClosed
	q.items = nil
	q.notify()
}

func (q *messageQueue) closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state == queueClosed
}

func (q *messageQueue) length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *messageQueue) overflowCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overflow
}

// notify signals the waiter without blocking. Must be called with q.mu held.
func (q *messageQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
