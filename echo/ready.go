package echo

import (
	"context"
)

// Ready is a set of readiness interest/result flags.
type Ready uint8

const (
	// Readable means a read would not block: there is buffered data, or the
	// writer count is zero (end of stream).
	Readable Ready = 1 << iota

	// Writable means a write of at least one byte would not block.
	Writable
)

func (r Ready) String() string {
	switch r & (Readable | Writable) {
	case Readable:
		return "read"
	case Writable:
		return "write"
	case Readable | Writable:
		return "read|write"
	}

	return "none"
}

// Event is a single edge-triggered readiness notification. Bytes carries the
// magnitude at the time of the edge: buffered bytes for Readable, free space
// for Writable. EOF is set on read events once the writer count is zero.
type Event struct {
	Ready Ready
	Bytes int
	EOF   bool
}

// Subscription is a persistent registration for readiness edges. Events of
// the same kind coalesce: only the most recent undelivered read event and
// write event are retained, like a kqueue knote with EV_CLEAR.
type Subscription struct {
	ch       *Channel
	interest Ready
	pending  [2]*Event // Guarded by ch.mu; [0] read, [1] write.
	wake     chan struct{}
	closed   bool
}

// Poll reports which of the requested interest bits are currently satisfied.
func (ch *Channel) Poll(interest Ready) Ready {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	return ch.readyLocked() & interest
}

// WaitReady blocks until at least one of the requested interest bits is
// satisfied and returns the satisfied subset. It fails with ErrClosed during
// teardown and ErrInterrupted if ctx is cancelled while suspended.
func (ch *Channel) WaitReady(ctx context.Context, interest Ready) (Ready, error) {
	if interest == 0 || interest&^(Readable|Writable) != 0 {
		return 0, ErrInvalidInterest
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	var stop func()

	for ch.readyLocked()&interest == 0 {
		if ch.dying {
			return 0, ErrClosed
		}

		if ctx.Err() != nil {
			return 0, ErrInterrupted
		}

		if stop == nil {
			stop = ch.interruptible(ctx)
			defer stop()
		}

		ch.pollCond.Wait()
	}

	return ch.readyLocked() & interest, nil
}

// Subscribe registers a persistent edge-triggered subscription for the given
// interest bits. It must be released with Close; Channel.Close force-detaches
// any that remain.
func (ch *Channel) Subscribe(interest Ready) (*Subscription, error) {
	if interest == 0 || interest&^(Readable|Writable) != 0 {
		return nil, ErrInvalidInterest
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.dying {
		return nil, ErrClosed
	}

	s := &Subscription{
		ch:       ch,
		interest: interest,
		wake:     make(chan struct{}, 1),
	}

	if interest&Readable != 0 {
		ch.rsubs[s] = struct{}{}
	}

	if interest&Writable != 0 {
		ch.wsubs[s] = struct{}{}
	}

	// A fresh subscription reports the current state once; after that only
	// edges fire.
	if interest&Readable != 0 && (ch.valid != 0 || ch.writers == 0) {
		s.post(Event{Ready: Readable, Bytes: ch.valid, EOF: ch.writers == 0})
	}

	if interest&Writable != 0 && ch.valid < len(ch.buf) {
		s.post(Event{Ready: Writable, Bytes: len(ch.buf) - ch.valid})
	}

	return s, nil
}

// Next returns the oldest pending event, blocking until one arrives. It fails
// with ErrClosed once the subscription is detached and ErrInterrupted if ctx
// is cancelled while waiting.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.ch.mu.Lock()

		if ev, ok := s.takeLocked(); ok {
			s.ch.mu.Unlock()
			return ev, nil
		}

		if s.closed {
			s.ch.mu.Unlock()
			return Event{}, ErrClosed
		}

		s.ch.mu.Unlock()

		select {
		case <-s.wake:
		case <-ctx.Done():
			return Event{}, ErrInterrupted
		}
	}
}

// TryNext returns a pending event without blocking.
func (s *Subscription) TryNext() (Event, bool) {
	s.ch.mu.Lock()
	defer s.ch.mu.Unlock()

	return s.takeLocked()
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.ch.mu.Lock()
	defer s.ch.mu.Unlock()

	delete(s.ch.rsubs, s)
	delete(s.ch.wsubs, s)
	s.detach()
}

// detach marks the subscription dead and wakes a blocked Next. Caller holds
// ch.mu.
func (s *Subscription) detach() {
	if s.closed {
		return
	}

	s.closed = true

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) takeLocked() (Event, bool) {
	for i, ev := range s.pending {
		if ev != nil {
			s.pending[i] = nil
			return *ev, true
		}
	}

	return Event{}, false
}

func (s *Subscription) post(ev Event) {
	if s.closed {
		return
	}

	if ev.Ready == Readable {
		s.pending[0] = &ev
	} else {
		s.pending[1] = &ev
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (ch *Channel) readyLocked() (r Ready) {
	if ch.valid != 0 || ch.writers == 0 {
		r |= Readable
	}

	if ch.valid < len(ch.buf) {
		r |= Writable
	}

	return
}

// notifyRead fires on edges that can make the channel readable: data
// installed into an empty buffer and the writer count hitting zero. Caller
// holds ch.mu.
func (ch *Channel) notifyRead() {
	ch.pollCond.Broadcast()

	if ch.valid == 0 && ch.writers != 0 {
		return
	}

	ev := Event{Ready: Readable, Bytes: ch.valid, EOF: ch.writers == 0}

	for s := range ch.rsubs {
		s.post(ev)
	}
}

// notifyWrite fires on edges that can make the channel writable: reads,
// clear and resize growth. Caller holds ch.mu.
func (ch *Channel) notifyWrite() {
	ch.pollCond.Broadcast()

	if ch.valid >= len(ch.buf) {
		return
	}

	ev := Event{Ready: Writable, Bytes: len(ch.buf) - ch.valid}

	for s := range ch.wsubs {
		s.post(ev)
	}
}
