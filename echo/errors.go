package echo

type channelError string

var _ error = channelError("")

func (err channelError) Error() string {
	return string(err)
}

const (
	// ErrClosed is terminal: the channel is being torn down and the handle
	// must not be used again.
	ErrClosed = channelError("channel is closed")

	// ErrWouldBlock is returned by nonblocking calls that cannot proceed
	// right now. Retryable.
	ErrWouldBlock = channelError("operation would block")

	// ErrInterrupted is returned when a blocking call is cancelled while
	// suspended. Retryable; channel state is intact.
	ErrInterrupted = channelError("operation interrupted")

	// ErrBusy rejects a resize that would discard buffered data.
	ErrBusy = channelError("buffered data exceeds requested capacity")

	ErrNoSpace         = channelError("capacity limit exceeded")
	ErrTooManyWriters  = channelError("writer count at maximum")
	ErrInvalidCapacity = channelError("invalid capacity")
	ErrInvalidInterest = channelError("invalid interest")
)
