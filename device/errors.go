package device

type deviceError string

var _ error = deviceError("")

func (err deviceError) Error() string {
	return string(err)
}

const (
	ErrPermission   = deviceError("permission denied")
	ErrExists       = deviceError("device already exists")
	ErrNotFound     = deviceError("no such device")
	ErrInvalidFlags = deviceError("invalid open flags")

	// ErrClosed is returned for operations on a closed handle.
	ErrClosed = deviceError("handle is closed")
)
