package echo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollPredicates(t *testing.T) {
	ch := newWritable(t, 4)
	ctx := context.Background()

	// Empty with a writer open: writable only.
	assert.Equal(t, Writable, ch.Poll(Readable|Writable))

	_, err := ch.Write(ctx, []byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, Readable|Writable, ch.Poll(Readable|Writable))

	_, err = ch.Write(ctx, []byte("cd"))
	require.NoError(t, err)
	assert.Equal(t, Readable, ch.Poll(Readable|Writable))

	// Interest masks the result.
	assert.Equal(t, Ready(0), ch.Poll(Writable))

	ch.Clear()
	ch.CloseWriter()

	// No writers: readable (end of stream) even though empty.
	assert.Equal(t, Readable|Writable, ch.Poll(Readable|Writable))
}

func TestWaitReady(t *testing.T) {
	ch := newWritable(t, 4)
	ctx := context.Background()

	_, err := ch.WaitReady(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidInterest)

	// Immediately satisfied.
	r, err := ch.WaitReady(ctx, Writable)
	require.NoError(t, err)
	assert.Equal(t, Writable, r)

	// Blocks until data arrives.
	got := make(chan Ready, 1)

	go func() {
		r, err := ch.WaitReady(ctx, Readable)
		if err == nil {
			got <- r
		}
	}()

	select {
	case <-got:
		t.Fatal("WaitReady returned with nothing readable")
	case <-time.After(50 * time.Millisecond):
	}

	_, err = ch.Write(ctx, []byte("x"))
	require.NoError(t, err)

	select {
	case r := <-got:
		assert.Equal(t, Readable, r)
	case <-time.After(time.Second):
		t.Fatal("WaitReady did not wake after write")
	}
}

func TestWaitReadyInterrupted(t *testing.T) {
	ch := newWritable(t, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		_, err := ch.WaitReady(ctx, Readable)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrInterrupted)
	case <-time.After(time.Second):
		t.Fatal("cancellation did not wake WaitReady")
	}
}

func TestSubscribeInvalidInterest(t *testing.T) {
	ch := newWritable(t, 4)

	_, err := ch.Subscribe(0)
	assert.ErrorIs(t, err, ErrInvalidInterest)

	_, err = ch.Subscribe(Ready(1 << 7))
	assert.ErrorIs(t, err, ErrInvalidInterest)
}

func TestSubscribeInitialState(t *testing.T) {
	ch := newWritable(t, 8)

	sub, err := ch.Subscribe(Readable | Writable)
	require.NoError(t, err)
	defer sub.Close()

	// Empty channel with an open writer: only the write side is pending.
	ev, ok := sub.TryNext()
	require.True(t, ok)
	assert.Equal(t, Writable, ev.Ready)
	assert.Equal(t, 8, ev.Bytes)

	_, ok = sub.TryNext()
	assert.False(t, ok)
}

func TestSubscriptionEdges(t *testing.T) {
	ch := newWritable(t, 8)
	ctx := context.Background()

	sub, err := ch.Subscribe(Readable)
	require.NoError(t, err)
	defer sub.Close()

	_, ok := sub.TryNext()
	require.False(t, ok)

	_, err = ch.Write(ctx, []byte("abc"))
	require.NoError(t, err)

	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Readable, ev.Ready)
	assert.Equal(t, 3, ev.Bytes)
	assert.False(t, ev.EOF)

	// Events of the same kind coalesce: two writes, one notification
	// carrying the latest magnitude.
	_, err = ch.Write(ctx, []byte("de"))
	require.NoError(t, err)
	_, err = ch.Write(ctx, []byte("f"))
	require.NoError(t, err)

	ev, err = sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, ev.Bytes)

	_, ok = sub.TryNext()
	assert.False(t, ok)
}

func TestSubscriptionEndOfStream(t *testing.T) {
	ch := newWritable(t, 8)

	sub, err := ch.Subscribe(Readable)
	require.NoError(t, err)
	defer sub.Close()

	ch.CloseWriter()

	ev, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Readable, ev.Ready)
	assert.True(t, ev.EOF)
	assert.Equal(t, 0, ev.Bytes)
}

func TestSubscriptionWriteEdge(t *testing.T) {
	ch := newWritable(t, 4)
	ctx := context.Background()

	_, err := ch.Write(ctx, []byte("full"))
	require.NoError(t, err)

	sub, err := ch.Subscribe(Writable)
	require.NoError(t, err)
	defer sub.Close()

	// Full buffer: nothing pending until a read frees space.
	_, ok := sub.TryNext()
	require.False(t, ok)

	_, err = ch.Read(ctx, make([]byte, 3))
	require.NoError(t, err)

	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Writable, ev.Ready)
	assert.Equal(t, 3, ev.Bytes)
}

func TestSubscriptionDetachOnClose(t *testing.T) {
	ch := newWritable(t, 8)

	sub, err := ch.Subscribe(Readable)
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() {
		_, err := sub.Next(context.Background())
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	ch.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("teardown did not detach the subscription")
	}

	// Subscribing after teardown fails.
	_, err = ch.Subscribe(Readable)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubscriptionCloseIdempotent(t *testing.T) {
	ch := newWritable(t, 8)

	sub, err := ch.Subscribe(Readable | Writable)
	require.NoError(t, err)

	sub.Close()
	sub.Close()

	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
