// Package queue implements the bounded, lock-friendly FIFO message queue
// (C2) that sits between the event handler and the batcher/sender. Each
// message's bytes live in one or more buffers lent from an internal/pool
// Pool; the queue itself holds only handles, never a second copy of the
// bytes.
package queue

import (
	"sync"
	"time"

	"github.com/aaronmbuhr/syslogagent/internal/pool"
)

const (
	// MaxMsgBytes bounds a single message's length.
	MaxMsgBytes = 1 << 20 // 1 MiB
	// MaxBuffersPerMessage bounds how many pool buffers back one message.
	MaxBuffersPerMessage = 64
)

type message struct {
	timestamp int64 // milliseconds since epoch, stamped at enqueue
	length    int
	buffers   []pool.Handle
	next      *message
}

// PreEnqueueHook, if set, is consulted before a message is linked into the
// queue; returning false cancels the enqueue cleanly (no buffers leaked).
type PreEnqueueHook func(data []byte) bool

// Queue is a bounded FIFO of variable-length messages.
type Queue struct {
	pool     *pool.Pool
	capacity int // MAX_QUEUED

	mu       sync.Mutex
	cond     *sync.Cond
	head     *message
	tail     *message
	count    int
	draining bool

	preEnqueue PreEnqueueHook
}

// New creates a queue bounded to capacity messages, whose message bytes
// are acquired from p.
func New(p *pool.Pool, capacity int) *Queue {
	q := &Queue{pool: p, capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// SetPreEnqueueHook installs a hook consulted before every enqueue.
func (q *Queue) SetPreEnqueueHook(h PreEnqueueHook) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.preEnqueue = h
}

// Enqueue copies data into freshly acquired buffers and links a new
// message at the tail. Rejects empty input, input exceeding MaxMsgBytes,
// a full queue, a draining queue, or a pre-enqueue hook veto.
func (q *Queue) Enqueue(data []byte) bool {
	if len(data) == 0 || len(data) > MaxMsgBytes {
		return false
	}

	q.mu.Lock()
	if q.draining || q.count >= q.capacity {
		q.mu.Unlock()
		return false
	}
	hook := q.preEnqueue
	q.mu.Unlock()

	if hook != nil && !hook(data) {
		return false
	}

	needed := (len(data) + q.pool.BufferSize() - 1) / q.pool.BufferSize()
	if needed == 0 {
		needed = 1
	}
	if needed > MaxBuffersPerMessage {
		return false
	}

	handles := make([]pool.Handle, 0, needed)
	off := 0
	for i := 0; i < needed; i++ {
		h, buf, ok := q.pool.Acquire()
		if !ok {
			for _, rh := range handles {
				q.pool.Release(rh)
			}
			return false
		}
		n := copy(buf, data[off:])
		off += n
		handles = append(handles, h)
	}

	msg := &message{
		timestamp: time.Now().UnixMilli(),
		length:    len(data),
		buffers:   handles,
	}

	q.mu.Lock()
	if q.draining || q.count >= q.capacity {
		q.mu.Unlock()
		for _, h := range handles {
			q.pool.Release(h)
		}
		return false
	}
	if q.tail == nil {
		q.head = msg
		q.tail = msg
	} else {
		q.tail.next = msg
		q.tail = msg
	}
	q.count++
	q.cond.Signal()
	q.mu.Unlock()
	return true
}

// copyMessage assembles a message's bytes into dst, returning the length
// written or -1 if dst is too small or the buffers are gone.
func (q *Queue) copyMessage(m *message, dst []byte) int {
	if m.length > len(dst) {
		return -1
	}
	off := 0
	remaining := m.length
	for _, h := range m.buffers {
		buf, ok := q.pool.Bytes(h)
		if !ok {
			return -1
		}
		n := len(buf)
		if n > remaining {
			n = remaining
		}
		copy(dst[off:off+n], buf[:n])
		off += n
		remaining -= n
		if remaining == 0 {
			break
		}
	}
	return off
}

// PeekFront copies the head message's bytes into dst without removing it.
// Returns -1 if the queue is empty or dst is too small.
func (q *Queue) PeekFront(dst []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == nil {
		return -1
	}
	return q.copyMessage(q.head, dst)
}

// FrontLength returns the byte length of the head message, or -1 if the
// queue is empty.
func (q *Queue) FrontLength() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == nil {
		return -1
	}
	return q.head.length
}

// removeFrontLocked unlinks the head message and releases its buffers.
// Must be called with q.mu held.
func (q *Queue) removeFrontLocked() bool {
	if q.head == nil {
		return false
	}
	m := q.head
	q.head = m.next
	if q.head == nil {
		q.tail = nil
	}
	q.count--
	for _, h := range m.buffers {
		q.pool.Release(h)
	}
	m.buffers = nil // marks the message removed for PeekAt
	return true
}

// RemoveFront removes the head message, releasing its buffers to the
// pool. Preserves FIFO order. Returns false if the queue is empty.
func (q *Queue) RemoveFront() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeFrontLocked()
}

// RemoveFrontN removes up to n messages from the head, returning how many
// were actually removed (fewer than n if the queue ran out).
func (q *Queue) RemoveFrontN(n int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for i := 0; i < n; i++ {
		if !q.removeFrontLocked() {
			break
		}
		removed++
	}
	return removed
}

// Dequeue blocks until a message is available or the queue begins
// draining, then copies and removes the head message. Returns -1 on
// drain-without-data or if dst is too small.
func (q *Queue) Dequeue(dst []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head == nil && !q.draining {
		q.cond.Wait()
	}
	if q.head == nil {
		return -1
	}
	n := q.copyMessage(q.head, dst)
	if n < 0 {
		return -1
	}
	q.removeFrontLocked()
	return n
}

// WaitNonEmpty blocks until the queue holds at least one message,
// begins draining, or timeout elapses (<=0 means wait indefinitely).
// Unlike Dequeue, it never removes anything — it exists for the sender
// loop (internal/sender) to sleep until there is work without consuming
// a message just to wake up. Returns false if the wait ended because of
// the timeout or a drain with nothing queued.
func (q *Queue) WaitNonEmpty(timeout time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if timeout <= 0 {
		for q.head == nil && !q.draining {
			q.cond.Wait()
		}
		return q.head != nil
	}

	deadline := time.Now().Add(timeout)
	timedOut := false
	stopTimer := make(chan struct{})
	go func() {
		select {
		case <-time.After(timeout):
			q.mu.Lock()
			timedOut = true
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-stopTimer:
		}
	}()
	defer close(stopTimer)

	for q.head == nil && !q.draining && !timedOut && time.Now().Before(deadline) {
		q.cond.Wait()
	}
	return q.head != nil
}

// Handle is an opaque reference to a message obtained via Traverse. It is
// only valid relative to the snapshot it came from; callers must not
// assume it survives a concurrent RemoveFront, and should re-validate
// through PeekAt before trusting its contents.
type Handle struct {
	msg *message
}

// Traverse snapshots the head-to-tail pointer chain under the queue's
// lock and returns it without holding the lock, so callers (the batcher)
// can iterate without blocking concurrent enqueue/dequeue for the whole
// scan. Handles in the snapshot are not guaranteed live past a concurrent
// RemoveFront; PeekAt re-validates.
func (q *Queue) Traverse() []Handle {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Handle, 0, q.count)
	for m := q.head; m != nil; m = m.next {
		out = append(out, Handle{msg: m})
	}
	return out
}

// PeekAt copies the bytes referenced by h into dst, re-reading the
// message's buffers under the lock. Returns -1 if the message's buffers
// are no longer valid (already removed) or dst is too small.
func (q *Queue) PeekAt(h Handle, dst []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if h.msg.buffers == nil {
		return -1
	}
	return q.copyMessage(h.msg, dst)
}

// LengthAt returns the byte length of the message referenced by h.
func (q *Queue) LengthAt(h Handle) int {
	return h.msg.length
}

// Length returns the current message count.
func (q *Queue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// IsEmpty reports whether the queue currently holds no messages.
func (q *Queue) IsEmpty() bool {
	return q.Length() == 0
}

// IsDraining reports whether BeginShutdown has been called.
func (q *Queue) IsDraining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining
}

// BeginShutdown marks the queue as draining, releases every queued
// message's buffers back to the pool, and wakes blocked Dequeue/
// WaitNonEmpty callers. It makes the queue appear empty to every
// subsequent observer, matching MessageQueue::beginShutdown in the
// original agent.
func (q *Queue) BeginShutdown() {
	q.mu.Lock()
	q.draining = true
	for q.removeFrontLocked() {
	}
	q.cond.Broadcast()
	q.mu.Unlock()
}

// OldestTimestamp returns the enqueue timestamp (ms since epoch) of the
// head message, or 0 if the queue is empty.
func (q *Queue) OldestTimestamp() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == nil {
		return 0
	}
	return q.head.timestamp
}

// Capacity returns the configured maximum message count.
func (q *Queue) Capacity() int { return q.capacity }
