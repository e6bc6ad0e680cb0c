// Package echo implements a fixed-capacity shared byte channel with blocking
// reads and writes, dynamic resize, writer-lifetime tracking and readiness
// notification. A single Channel may be used by any number of concurrent
// readers, writers and control callers.
package echo

import (
	"context"
	"math"
	"sync"
)

const (
	// DefaultCapacity is the buffer size a freshly registered device gets.
	DefaultCapacity = 64

	// MaxCapacity bounds Resize growth. Growing past it fails with
	// ErrNoSpace and leaves the channel untouched.
	MaxCapacity = 1 << 20

	maxWriters = math.MaxInt32
)

// Channel is a capacity-bounded byte buffer. Buffered data is kept contiguous
// at the front of buf; every read compacts the remainder back to offset 0.
//
// A read returns as soon as any data is available, while a write keeps
// blocking until all of its input has been accepted. When the writer count
// drops to zero, readers observe end of stream instead of blocking.
type Channel struct {
	readCond  sync.Cond // Awaited by readers, notified by writers.
	writeCond sync.Cond // Awaited by writers, notified by readers.
	pollCond  sync.Cond // Awaited by WaitReady callers, notified on any edge.
	mu        sync.Mutex
	buf       []byte
	valid     int
	writers   int
	dying     bool
	rsubs     map[*Subscription]struct{}
	wsubs     map[*Subscription]struct{}
}

// New creates a channel with the given capacity, zero buffered bytes and no
// writers.
func New(capacity int) (*Channel, error) {
	if capacity < 0 {
		return nil, ErrInvalidCapacity
	}

	if capacity > MaxCapacity {
		return nil, ErrNoSpace
	}

	ch := &Channel{
		buf:   make([]byte, capacity),
		rsubs: make(map[*Subscription]struct{}),
		wsubs: make(map[*Subscription]struct{}),
	}

	ch.readCond.L = &ch.mu
	ch.writeCond.L = &ch.mu
	ch.pollCond.L = &ch.mu

	return ch, nil
}

// OpenWriter registers one more write-capable opener.
func (ch *Channel) OpenWriter() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.writers == maxWriters {
		return ErrTooManyWriters
	}

	ch.writers++
	return nil
}

// CloseWriter drops one write-capable opener. When the count reaches zero any
// blocked readers wake up and observe end of stream.
func (ch *Channel) CloseWriter() {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.writers == 0 {
		return
	}

	ch.writers--

	if ch.writers == 0 {
		ch.readCond.Broadcast()
		ch.notifyRead()
	}
}

// Read transfers up to len(p) buffered bytes into p. It blocks while the
// buffer is empty and at least one writer is open; once the last writer
// closes, an empty channel reads as (0, nil). Cancelling ctx while suspended
// returns ErrInterrupted.
func (ch *Channel) Read(ctx context.Context, p []byte) (int, error) {
	return ch.read(ctx, p, false)
}

// TryRead is Read without suspension: an empty channel with open writers
// fails with ErrWouldBlock.
func (ch *Channel) TryRead(p []byte) (int, error) {
	return ch.read(context.Background(), p, true)
}

func (ch *Channel) read(ctx context.Context, p []byte, nonblock bool) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	var stop func()

	// Wait for bytes to read.
	for ch.valid == 0 && ch.writers != 0 {
		if ch.dying {
			return 0, ErrClosed
		}

		if nonblock {
			return 0, ErrWouldBlock
		}

		if ctx.Err() != nil {
			return 0, ErrInterrupted
		}

		if stop == nil {
			stop = ch.interruptible(ctx)
			defer stop()
		}

		ch.readCond.Wait()
	}

	todo := len(p)
	if todo > ch.valid {
		todo = ch.valid
	}

	copy(p, ch.buf[:todo])

	// Wakeup any waiting writers.
	if ch.valid == len(ch.buf) {
		ch.writeCond.Broadcast()
	}

	copy(ch.buf, ch.buf[todo:ch.valid])
	ch.valid -= todo
	ch.notifyWrite()

	return todo, nil
}

// Write transfers all of p into the channel, suspending whenever the buffer
// is full until readers drain it. On success the returned count equals
// len(p). If ctx is cancelled mid-transfer, the bytes installed so far are
// reported alongside ErrInterrupted.
func (ch *Channel) Write(ctx context.Context, p []byte) (int, error) {
	return ch.write(ctx, p, false)
}

// TryWrite is Write without suspension: it installs what fits and fails with
// ErrWouldBlock (reporting the partial count) if the buffer fills before the
// input is exhausted.
func (ch *Channel) TryWrite(p []byte) (int, error) {
	return ch.write(context.Background(), p, true)
}

func (ch *Channel) write(ctx context.Context, p []byte, nonblock bool) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	var stop func()

	for n < len(p) {
		// Wait for space to write.
		for ch.valid == len(ch.buf) {
			if ch.dying {
				return n, ErrClosed
			}

			if nonblock {
				return n, ErrWouldBlock
			}

			if ctx.Err() != nil {
				return n, ErrInterrupted
			}

			if stop == nil {
				stop = ch.interruptible(ctx)
				defer stop()
			}

			ch.writeCond.Wait()
		}

		todo := len(p) - n
		if free := len(ch.buf) - ch.valid; todo > free {
			todo = free
		}

		// Wakeup any waiting readers.
		if ch.valid == 0 {
			ch.readCond.Broadcast()
		}

		copy(ch.buf[ch.valid:], p[n:n+todo])
		ch.valid += todo
		n += todo
		ch.notifyRead()
	}

	return n, nil
}

// Cap returns the current buffer capacity.
func (ch *Channel) Cap() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	return len(ch.buf)
}

// Len returns the number of buffered, unread bytes.
func (ch *Channel) Len() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	return ch.valid
}

// Writers returns the current writer count.
func (ch *Channel) Writers() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	return ch.writers
}

// Resize changes the buffer capacity. Shrinking below the number of buffered
// bytes fails with ErrBusy and leaves the channel untouched. Growing a full
// buffer wakes blocked writers; the new region is zero-filled.
func (ch *Channel) Resize(capacity int) error {
	if capacity < 0 {
		return ErrInvalidCapacity
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	switch {
	case capacity == len(ch.buf):
		// Nothing to do.

	case capacity < len(ch.buf):
		if capacity < ch.valid {
			return ErrBusy
		}

		ch.buf = ch.buf[:capacity]

	default:
		if capacity > MaxCapacity {
			return ErrNoSpace
		}

		// Wakeup any waiting writers.
		if ch.valid == len(ch.buf) {
			ch.writeCond.Broadcast()
		}

		buf := make([]byte, capacity)
		copy(buf, ch.buf[:ch.valid])
		ch.buf = buf
		ch.notifyWrite()
	}

	return nil
}

// Clear discards all buffered data, waking any blocked writers.
func (ch *Channel) Clear() {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	// Wakeup any waiting writers.
	if ch.valid == len(ch.buf) {
		ch.writeCond.Broadcast()
	}

	ch.valid = 0
	ch.notifyWrite()
}

// Close tears the channel down: every suspended reader and writer fails with
// ErrClosed and all subscriptions are detached. Close does not wait for calls
// already past their wait loop; the owner must stop handing out the channel
// before calling it. Safe to call more than once.
func (ch *Channel) Close() {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.dying {
		return
	}

	ch.dying = true
	ch.readCond.Broadcast()
	ch.writeCond.Broadcast()
	ch.pollCond.Broadcast()

	for s := range ch.rsubs {
		s.detach()
	}

	for s := range ch.wsubs {
		s.detach()
	}
}

// interruptible arranges for the wait loops to be woken when ctx is done.
// Must be called with ch.mu held; the broadcast cannot fire until the caller
// reaches Wait. The returned stop func releases the helper goroutine.
func (ch *Channel) interruptible(ctx context.Context) func() {
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			ch.mu.Lock()
			ch.readCond.Broadcast()
			ch.writeCond.Broadcast()
			ch.pollCond.Broadcast()
			ch.mu.Unlock()
		case <-done:
		}
	}()

	return func() { close(done) }
}
