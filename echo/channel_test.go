package echo

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newWritable(t *testing.T, capacity int) *Channel {
	t.Helper()

	ch, err := New(capacity)
	require.NoError(t, err)
	require.NoError(t, ch.OpenWriter())

	t.Cleanup(ch.Close)

	return ch
}

func TestNew(t *testing.T) {
	ch, err := New(64)
	require.NoError(t, err)
	assert.Equal(t, 64, ch.Cap())
	assert.Equal(t, 0, ch.Len())
	assert.Equal(t, 0, ch.Writers())

	_, err = New(-1)
	assert.ErrorIs(t, err, ErrInvalidCapacity)

	_, err = New(MaxCapacity + 1)
	assert.ErrorIs(t, err, ErrNoSpace)
}

func TestRoundTrip(t *testing.T) {
	ch := newWritable(t, 64)
	ctx := context.Background()

	in := []byte("the quick brown fox jumps over the lazy dog")

	n, err := ch.Write(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, len(in), n)
	assert.Equal(t, len(in), ch.Len())

	out := make([]byte, len(in))
	n, err = ch.Read(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, len(in), n)
	assert.Equal(t, in, out)
	assert.Equal(t, 0, ch.Len())
}

func TestZeroLengthTransfers(t *testing.T) {
	ch := newWritable(t, 8)
	ctx := context.Background()

	n, err := ch.Read(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = ch.Write(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReadEndOfStream(t *testing.T) {
	ch, err := New(8)
	require.NoError(t, err)

	// No writers: an empty channel reads as end of stream, never blocks.
	n, err := ch.Read(context.Background(), make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = ch.TryRead(make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestTryReadWouldBlock(t *testing.T) {
	ch := newWritable(t, 8)

	_, err := ch.TryRead(make([]byte, 4))
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestTryWritePartial(t *testing.T) {
	ch := newWritable(t, 4)

	n, err := ch.TryWrite([]byte("abcdef"))
	assert.ErrorIs(t, err, ErrWouldBlock)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, ch.Len())

	n, err = ch.TryWrite([]byte("x"))
	assert.ErrorIs(t, err, ErrWouldBlock)
	assert.Equal(t, 0, n)
}

func TestBlockingRead(t *testing.T) {
	ch := newWritable(t, 8)
	ctx := context.Background()

	got := make(chan []byte, 1)

	go func() {
		p := make([]byte, 8)
		n, err := ch.Read(ctx, p)
		if err == nil {
			got <- p[:n]
		}
	}()

	select {
	case <-got:
		t.Fatal("read returned with no data buffered")
	case <-time.After(50 * time.Millisecond):
	}

	_, err := ch.Write(ctx, []byte("hi"))
	require.NoError(t, err)

	select {
	case p := <-got:
		assert.Equal(t, []byte("hi"), p)
	case <-time.After(time.Second):
		t.Fatal("read did not wake after write")
	}
}

func TestBackpressure(t *testing.T) {
	ch := newWritable(t, 8)
	ctx := context.Background()

	in := make([]byte, 100)
	for i := range in {
		in[i] = byte(i)
	}

	var g errgroup.Group

	g.Go(func() error {
		n, err := ch.Write(ctx, in)
		if err != nil {
			return err
		}

		if n != len(in) {
			return fmt.Errorf("short write: %d", n)
		}

		return nil
	})

	var out bytes.Buffer
	p := make([]byte, 7)

	for out.Len() < len(in) {
		n, err := ch.Read(ctx, p)
		require.NoError(t, err)
		out.Write(p[:n])
	}

	require.NoError(t, g.Wait())
	assert.Equal(t, in, out.Bytes())
}

func TestResizeReject(t *testing.T) {
	ch := newWritable(t, 16)
	ctx := context.Background()

	_, err := ch.Write(ctx, []byte("0123456789"))
	require.NoError(t, err)

	err = ch.Resize(5)
	assert.ErrorIs(t, err, ErrBusy)

	// State is untouched.
	assert.Equal(t, 16, ch.Cap())
	assert.Equal(t, 10, ch.Len())

	out := make([]byte, 10)
	_, err = ch.Read(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789"), out)
}

func TestResizeShrinkAndGrow(t *testing.T) {
	ch := newWritable(t, 64)

	require.NoError(t, ch.Resize(64)) // no-op
	require.NoError(t, ch.Resize(16))
	assert.Equal(t, 16, ch.Cap())

	require.NoError(t, ch.Resize(128))
	assert.Equal(t, 128, ch.Cap())

	assert.ErrorIs(t, ch.Resize(-1), ErrInvalidCapacity)
	assert.ErrorIs(t, ch.Resize(MaxCapacity+1), ErrNoSpace)
}

func TestResizeGrowWakesWriter(t *testing.T) {
	ch := newWritable(t, 4)
	ctx := context.Background()

	_, err := ch.Write(ctx, []byte("full"))
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() {
		_, err := ch.Write(ctx, []byte("more"))
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("write completed against a full buffer")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, ch.Resize(16))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("grow did not wake the blocked writer")
	}

	assert.Equal(t, 8, ch.Len())
}

func TestClearWakesWriter(t *testing.T) {
	ch := newWritable(t, 4)
	ctx := context.Background()

	_, err := ch.Write(ctx, []byte("full"))
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() {
		_, err := ch.Write(ctx, []byte("next"))
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("write completed against a full buffer")
	case <-time.After(50 * time.Millisecond):
	}

	ch.Clear()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("clear did not wake the blocked writer")
	}

	out := make([]byte, 4)
	n, err := ch.Read(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, []byte("next"), out[:n])
}

func TestCloseUnblocksReader(t *testing.T) {
	ch := newWritable(t, 8)

	done := make(chan error, 1)

	go func() {
		_, err := ch.Read(context.Background(), make([]byte, 4))
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	ch.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("teardown did not wake the blocked reader")
	}
}

func TestInterruptedRead(t *testing.T) {
	ch := newWritable(t, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		_, err := ch.Read(ctx, make([]byte, 4))
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrInterrupted)
	case <-time.After(time.Second):
		t.Fatal("cancellation did not wake the blocked reader")
	}

	// The channel survives an interrupted call.
	_, err := ch.Write(context.Background(), []byte("ok"))
	require.NoError(t, err)
	assert.Equal(t, 2, ch.Len())
}

func TestInterruptedWriteReportsPartial(t *testing.T) {
	ch := newWritable(t, 4)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)

	go func() {
		n, err := ch.Write(ctx, make([]byte, 10))
		done <- result{n, err}
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case res := <-done:
		assert.ErrorIs(t, res.err, ErrInterrupted)
		assert.Equal(t, 4, res.n)
	case <-time.After(time.Second):
		t.Fatal("cancellation did not wake the blocked writer")
	}
}

func TestWriterCountEndOfStream(t *testing.T) {
	ch := newWritable(t, 8)
	require.NoError(t, ch.OpenWriter())
	assert.Equal(t, 2, ch.Writers())

	ch.CloseWriter()

	// One writer still open: empty channel would block.
	_, err := ch.TryRead(make([]byte, 4))
	assert.ErrorIs(t, err, ErrWouldBlock)

	ch.CloseWriter()

	// Last writer gone: end of stream.
	n, err := ch.Read(context.Background(), make([]byte, 4))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCloseWriterWakesReader(t *testing.T) {
	ch := newWritable(t, 8)

	done := make(chan error, 1)

	go func() {
		_, err := ch.Read(context.Background(), make([]byte, 4))
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	ch.CloseWriter()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("last writer close did not wake the blocked reader")
	}
}

// Concurrent writers emit fixed-size chunks; reads drain in the same unit.
// Chunks from different writers may interleave, but no chunk may be torn and
// each writer's chunks must drain in its own issue order.
func TestConcurrentWriters(t *testing.T) {
	const (
		writers   = 8
		chunks    = 50
		chunkSize = 4
	)

	ch := newWritable(t, 16)
	ctx := context.Background()

	var g errgroup.Group

	for w := 0; w < writers; w++ {
		w := w

		g.Go(func() error {
			for i := 0; i < chunks; i++ {
				chunk := []byte{byte(w), byte(i), byte(w), byte(i)}

				n, err := ch.Write(ctx, chunk)
				if err != nil {
					return err
				}

				if n != chunkSize {
					return fmt.Errorf("short write: %d", n)
				}
			}

			return nil
		})
	}

	seen := make(map[byte][]byte, writers) // writer -> sequence of chunk ids
	p := make([]byte, chunkSize)

	for read := 0; read < writers*chunks; {
		n, err := ch.Read(ctx, p)
		require.NoError(t, err)
		require.Equal(t, chunkSize, n)

		// An untorn chunk repeats its writer/sequence pair.
		require.Equal(t, p[0], p[2], "torn chunk: %v", p)
		require.Equal(t, p[1], p[3], "torn chunk: %v", p)

		seen[p[0]] = append(seen[p[0]], p[1])
		read++
	}

	require.NoError(t, g.Wait())

	for w := byte(0); w < writers; w++ {
		require.Len(t, seen[w], chunks)

		for i, id := range seen[w] {
			assert.Equal(t, byte(i), id, "writer %d chunks out of order", w)
		}
	}

	assert.Equal(t, 0, ch.Len())
}

func BenchmarkWriteRead(b *testing.B) {
	ch, err := New(4096)
	if err != nil {
		b.Fatal(err)
	}

	if err := ch.OpenWriter(); err != nil {
		b.Fatal(err)
	}

	b.Cleanup(ch.Close)

	p := make([]byte, 64)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := ch.TryWrite(p); err != nil {
			b.Fatal(err)
		}

		if _, err := ch.TryRead(p); err != nil {
			b.Fatal(err)
		}
	}
}
