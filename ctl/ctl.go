// Package ctl carries the control-plane protocol for echo devices: a
// line-oriented request/response exchange over a local socket. Each command
// maps onto exactly one device operation; no buffer logic lives here.
//
// Requests name the device first:
//
//	SIZE <dev>
//	RESIZE <dev> <n>
//	CLEAR <dev>
//	POLL <dev> <r|w|rw> [WAIT]
//	EVENTS <dev> <r|w|rw> [WAIT]
//	READ <dev> <n> [NB]
//	WRITE <dev> <hex> [NB]
//
// Responses are one `OK ...` or `ERR <op> <message>` line, except EVENTS
// which streams `EVENT <read|write> <bytes> [EOF]` lines.
package ctl

import (
	"fmt"

	"github.com/davrell/echodev/echo"
)

// Status is the result of a poll: the satisfied readiness bits plus the byte
// counts a caller usually wants next to them.
type Status struct {
	Ready echo.Ready
	Avail int // bytes available to read
	Room  int // bytes of free buffer space
}

// OpError is a failure reported by the server, tagged with the operation that
// failed.
type OpError struct {
	Op  string
	Msg string
}

func (err *OpError) Error() string {
	return fmt.Sprintf("%s: %s", err.Op, err.Msg)
}

func formatReady(r echo.Ready) string {
	switch r & (echo.Readable | echo.Writable) {
	case echo.Readable:
		return "r"
	case echo.Writable:
		return "w"
	case echo.Readable | echo.Writable:
		return "rw"
	}

	return "-"
}

func parseReady(s string) (echo.Ready, error) {
	var r echo.Ready

	for _, c := range s {
		switch c {
		case 'r':
			r |= echo.Readable
		case 'w':
			r |= echo.Writable
		case '-':
		default:
			return 0, fmt.Errorf("unknown interest %q", s)
		}
	}

	return r, nil
}
