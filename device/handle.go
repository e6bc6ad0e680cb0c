package device

import (
	"context"
	"sync"

	"github.com/davrell/echodev/echo"
)

// Flag is a set of open-mode bits.
type Flag uint8

const (
	ReadFlag Flag = 1 << iota
	WriteFlag
)

// Handle is one open reference to a device. Data operations are forwarded to
// the channel; write-class control operations (Resize, Clear) require
// WriteFlag. Close releases the writer slot taken by a write-capable open.
type Handle struct {
	dev    *Device
	flags  Flag
	mu     sync.Mutex
	closed bool
}

func (h *Handle) Device() *Device {
	return h.dev
}

func (h *Handle) Read(ctx context.Context, p []byte) (int, error) {
	if err := h.check(ReadFlag); err != nil {
		return 0, err
	}

	return h.dev.ch.Read(ctx, p)
}

func (h *Handle) TryRead(p []byte) (int, error) {
	if err := h.check(ReadFlag); err != nil {
		return 0, err
	}

	return h.dev.ch.TryRead(p)
}

func (h *Handle) Write(ctx context.Context, p []byte) (int, error) {
	if err := h.check(WriteFlag); err != nil {
		return 0, err
	}

	return h.dev.ch.Write(ctx, p)
}

func (h *Handle) TryWrite(p []byte) (int, error) {
	if err := h.check(WriteFlag); err != nil {
		return 0, err
	}

	return h.dev.ch.TryWrite(p)
}

// BufSize returns the channel capacity. Allowed on any handle.
func (h *Handle) BufSize() (int, error) {
	if err := h.check(0); err != nil {
		return 0, err
	}

	return h.dev.ch.Cap(), nil
}

// Buffered returns the number of unread bytes. Allowed on any handle.
func (h *Handle) Buffered() (int, error) {
	if err := h.check(0); err != nil {
		return 0, err
	}

	return h.dev.ch.Len(), nil
}

// Resize sets the channel capacity. Requires WriteFlag.
func (h *Handle) Resize(capacity int) error {
	if err := h.check(WriteFlag); err != nil {
		return err
	}

	return h.dev.ch.Resize(capacity)
}

// Clear discards buffered data. Requires WriteFlag.
func (h *Handle) Clear() error {
	if err := h.check(WriteFlag); err != nil {
		return err
	}

	h.dev.ch.Clear()
	return nil
}

func (h *Handle) Poll(interest echo.Ready) (echo.Ready, error) {
	if err := h.check(0); err != nil {
		return 0, err
	}

	return h.dev.ch.Poll(interest), nil
}

func (h *Handle) WaitReady(ctx context.Context, interest echo.Ready) (echo.Ready, error) {
	if err := h.check(0); err != nil {
		return 0, err
	}

	return h.dev.ch.WaitReady(ctx, interest)
}

func (h *Handle) Subscribe(interest echo.Ready) (*echo.Subscription, error) {
	if err := h.check(0); err != nil {
		return nil, err
	}

	return h.dev.ch.Subscribe(interest)
}

// Close releases the handle. Safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	h.closed = true

	if h.flags&WriteFlag != 0 {
		h.dev.ch.CloseWriter()
	}

	return nil
}

// check fails when the handle is closed or lacks the required mode bits.
func (h *Handle) check(need Flag) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()

	if closed {
		return ErrClosed
	}

	if h.flags&need != need {
		return ErrPermission
	}

	return nil
}
