package ctl

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/davrell/echodev/echo"
)

// Client issues control-plane commands over a local socket. Each call dials
// its own connection, mirroring a one-shot control utility.
type Client struct {
	network string
	addr    string
}

// NewClient returns a client for the unix socket at path.
func NewClient(path string) *Client {
	return &Client{network: "unix", addr: path}
}

// Size returns the device's buffer capacity.
func (c *Client) Size(dev string) (int, error) {
	fields, err := c.roundTrip("size", fmt.Sprintf("SIZE %s\n", dev), 1)
	if err != nil {
		return 0, err
	}

	return strconv.Atoi(fields[0])
}

// Resize sets the device's buffer capacity.
func (c *Client) Resize(dev string, size int) error {
	_, err := c.roundTrip("resize", fmt.Sprintf("RESIZE %s %d\n", dev, size), 0)
	return err
}

// Clear discards the device's buffered data.
func (c *Client) Clear(dev string) error {
	_, err := c.roundTrip("clear", fmt.Sprintf("CLEAR %s\n", dev), 0)
	return err
}

// Poll queries readiness. With wait set it blocks until some requested bit is
// satisfied.
func (c *Client) Poll(dev string, interest echo.Ready, wait bool) (Status, error) {
	req := fmt.Sprintf("POLL %s %s%s\n", dev, formatReady(interest), waitSuffix(wait))

	fields, err := c.roundTrip("poll", req, 3)
	if err != nil {
		return Status{}, err
	}

	ready, err := parseReady(fields[0])
	if err != nil {
		return Status{}, &OpError{Op: "poll", Msg: err.Error()}
	}

	avail, err := strconv.Atoi(fields[1])
	if err != nil {
		return Status{}, &OpError{Op: "poll", Msg: "bad response"}
	}

	room, err := strconv.Atoi(fields[2])
	if err != nil {
		return Status{}, &OpError{Op: "poll", Msg: "bad response"}
	}

	return Status{Ready: ready, Avail: avail, Room: room}, nil
}

// Read transfers up to n buffered bytes from the device.
func (c *Client) Read(dev string, n int, nonblock bool) ([]byte, error) {
	req := fmt.Sprintf("READ %s %d%s\n", dev, n, nbSuffix(nonblock))

	fields, err := c.roundTrip("read", req, 1)
	if err != nil {
		return nil, err
	}

	return decodePayload(fields[0])
}

// Write transfers p into the device.
func (c *Client) Write(dev string, p []byte, nonblock bool) (int, error) {
	req := fmt.Sprintf("WRITE %s %s%s\n", dev, encodePayload(p), nbSuffix(nonblock))

	fields, err := c.roundTrip("write", req, 1)
	if err != nil {
		return 0, err
	}

	return strconv.Atoi(fields[0])
}

// Events subscribes to readiness edges and invokes fn for each notification.
// Without wait it reports the currently pending state and returns; with wait
// it streams until fn fails or the connection drops.
func (c *Client) Events(dev string, interest echo.Ready, wait bool, fn func(echo.Event) error) error {
	conn, err := net.Dial(c.network, c.addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := fmt.Sprintf("EVENTS %s %s%s\n", dev, formatReady(interest), waitSuffix(wait))
	if _, err := conn.Write([]byte(req)); err != nil {
		return err
	}

	r := bufio.NewReader(conn)

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if wait {
				// Stream ended with the connection; not a failure.
				return nil
			}

			return err
		}

		fields := strings.Fields(line)

		switch {
		case len(fields) == 0:
			continue

		case fields[0] == "OK":
			return nil

		case fields[0] == "ERR":
			return respError(fields)

		case fields[0] == "EVENT" && len(fields) >= 3:
			ev, err := parseEvent(fields[1:])
			if err != nil {
				return err
			}

			if err := fn(ev); err != nil {
				return err
			}

		default:
			return &OpError{Op: "events", Msg: "bad response"}
		}
	}
}

func (c *Client) roundTrip(op, req string, want int) ([]string, error) {
	conn, err := net.Dial(c.network, c.addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(req)); err != nil {
		return nil, err
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return nil, err
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, &OpError{Op: op, Msg: "empty response"}
	}

	switch fields[0] {
	case "OK":
		if len(fields)-1 < want {
			return nil, &OpError{Op: op, Msg: "short response"}
		}

		return fields[1:], nil

	case "ERR":
		return nil, respError(fields)
	}

	return nil, &OpError{Op: op, Msg: "bad response"}
}

func parseEvent(fields []string) (echo.Event, error) {
	var ev echo.Event

	switch fields[0] {
	case "read":
		ev.Ready = echo.Readable
	case "write":
		ev.Ready = echo.Writable
	default:
		return ev, &OpError{Op: "events", Msg: "bad event kind"}
	}

	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return ev, &OpError{Op: "events", Msg: "bad event size"}
	}

	ev.Bytes = n
	ev.EOF = len(fields) > 2 && fields[2] == "EOF"

	return ev, nil
}

func respError(fields []string) error {
	if len(fields) < 2 {
		return &OpError{Op: "ctl", Msg: "unknown error"}
	}

	return &OpError{Op: fields[1], Msg: strings.Join(fields[2:], " ")}
}

func waitSuffix(wait bool) string {
	if wait {
		return " WAIT"
	}

	return ""
}

func nbSuffix(nonblock bool) string {
	if nonblock {
		return " NB"
	}

	return ""
}
