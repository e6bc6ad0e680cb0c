package ctl

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/davrell/echodev/device"
	"github.com/davrell/echodev/echo"
)

const (
	// MaxBufSize bounds RESIZE requests. This is control-plane policy; the
	// channel's own limit is much higher.
	MaxBufSize = 1024

	// maxReadChunk bounds a single READ request.
	maxReadChunk = 64 * 1024
)

// Server answers control-plane commands against a device registry. Each
// connection carries one command; EVENTS keeps the connection open to stream
// notifications.
type Server struct {
	Registry *device.Registry
}

// Serve accepts connections until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		lis.Close()
		return nil
	})

	g.Go(func() error {
		for {
			conn, err := lis.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}

				return err
			}

			g.Go(func() error {
				defer conn.Close()

				if err := s.serveConn(ctx, conn); err != nil {
					log.Printf("ctl: %v", err)
				}

				return nil
			})
		}
	})

	return g.Wait()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) error {
	r := bufio.NewReader(conn)

	line, err := r.ReadString('\n')
	if err != nil {
		return err
	}

	fields := strings.Fields(line)
	if len(fields) < 2 {
		fmt.Fprintf(conn, "ERR ctl malformed request\n")
		return nil
	}

	cmd, dev := strings.ToUpper(fields[0]), fields[1]
	args := fields[2:]
	op := strings.ToLower(cmd)

	// Blocking commands must unblock when the client goes away, not just on
	// server shutdown.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		r.ReadByte()
		cancel()
	}()

	var reply string

	switch cmd {
	case "SIZE":
		reply, err = s.size(dev)
	case "RESIZE":
		reply, err = s.resize(dev, args)
	case "CLEAR":
		reply, err = s.clear(dev)
	case "POLL":
		reply, err = s.poll(ctx, dev, args)
	case "READ":
		reply, err = s.read(ctx, dev, args)
	case "WRITE":
		reply, err = s.write(ctx, dev, args)
	case "EVENTS":
		return s.events(ctx, conn, dev, args)
	default:
		err = fmt.Errorf("unknown command %q", fields[0])
	}

	if err != nil {
		fmt.Fprintf(conn, "ERR %s %s\n", op, err)
		return nil
	}

	fmt.Fprintf(conn, "OK%s\n", reply)
	return nil
}

func (s *Server) open(name string, flags device.Flag) (*device.Handle, error) {
	dev, err := s.Registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	return dev.Open(flags)
}

func (s *Server) size(dev string) (string, error) {
	h, err := s.open(dev, device.ReadFlag)
	if err != nil {
		return "", err
	}
	defer h.Close()

	size, err := h.BufSize()
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(" %d", size), nil
}

func (s *Server) resize(dev string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("resize takes one argument")
	}

	size, err := strconv.Atoi(args[0])
	if err != nil || size < 0 || size > MaxBufSize {
		return "", fmt.Errorf("new size must be 0..%d", MaxBufSize)
	}

	h, err := s.open(dev, device.ReadFlag|device.WriteFlag)
	if err != nil {
		return "", err
	}
	defer h.Close()

	if err := h.Resize(size); err != nil {
		return "", err
	}

	return "", nil
}

func (s *Server) clear(dev string) (string, error) {
	h, err := s.open(dev, device.ReadFlag|device.WriteFlag)
	if err != nil {
		return "", err
	}
	defer h.Close()

	if err := h.Clear(); err != nil {
		return "", err
	}

	return "", nil
}

func (s *Server) poll(ctx context.Context, dev string, args []string) (string, error) {
	interest, wait, err := interestArgs(args)
	if err != nil {
		return "", err
	}

	h, err := s.open(dev, device.ReadFlag)
	if err != nil {
		return "", err
	}
	defer h.Close()

	var ready echo.Ready

	if wait {
		ready, err = h.WaitReady(ctx, interest)
	} else {
		ready, err = h.Poll(interest)
	}

	if err != nil {
		return "", err
	}

	avail, err := h.Buffered()
	if err != nil {
		return "", err
	}

	size, err := h.BufSize()
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(" %s %d %d", formatReady(ready), avail, size-avail), nil
}

func (s *Server) read(ctx context.Context, dev string, args []string) (string, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("read takes a byte count")
	}

	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 || n > maxReadChunk {
		return "", fmt.Errorf("byte count must be 0..%d", maxReadChunk)
	}

	nonblock := len(args) > 1 && args[1] == "NB"

	h, err := s.open(dev, device.ReadFlag)
	if err != nil {
		return "", err
	}
	defer h.Close()

	p := make([]byte, n)

	var got int

	if nonblock {
		got, err = h.TryRead(p)
	} else {
		got, err = h.Read(ctx, p)
	}

	if err != nil {
		return "", err
	}

	return " " + encodePayload(p[:got]), nil
}

func (s *Server) write(ctx context.Context, dev string, args []string) (string, error) {
	if len(args) < 1 {
		return "", fmt.Errorf("write takes a payload")
	}

	p, err := decodePayload(args[0])
	if err != nil {
		return "", err
	}

	nonblock := len(args) > 1 && args[1] == "NB"

	h, err := s.open(dev, device.ReadFlag|device.WriteFlag)
	if err != nil {
		return "", err
	}
	defer h.Close()

	var n int

	if nonblock {
		n, err = h.TryWrite(p)
	} else {
		n, err = h.Write(ctx, p)
	}

	if err != nil {
		return "", err
	}

	return fmt.Sprintf(" %d", n), nil
}

func (s *Server) events(ctx context.Context, conn net.Conn, dev string, args []string) error {
	interest, wait, err := interestArgs(args)
	if err != nil {
		fmt.Fprintf(conn, "ERR events %s\n", err)
		return nil
	}

	h, err := s.open(dev, device.ReadFlag)
	if err != nil {
		fmt.Fprintf(conn, "ERR events %s\n", err)
		return nil
	}
	defer h.Close()

	sub, err := h.Subscribe(interest)
	if err != nil {
		fmt.Fprintf(conn, "ERR events %s\n", err)
		return nil
	}
	defer sub.Close()

	if !wait {
		for {
			ev, ok := sub.TryNext()
			if !ok {
				break
			}

			if err := writeEvent(conn, ev); err != nil {
				return err
			}
		}

		fmt.Fprintf(conn, "OK\n")
		return nil
	}

	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			// Teardown or client disconnect; either way the stream ends.
			return nil
		}

		if err := writeEvent(conn, ev); err != nil {
			return err
		}
	}
}

func writeEvent(conn net.Conn, ev echo.Event) error {
	eof := ""
	if ev.EOF {
		eof = " EOF"
	}

	_, err := fmt.Fprintf(conn, "EVENT %s %d%s\n", ev.Ready, ev.Bytes, eof)
	return err
}

func interestArgs(args []string) (echo.Ready, bool, error) {
	interest := echo.Readable | echo.Writable
	wait := false

	for i, arg := range args {
		if i == 0 && arg != "WAIT" {
			r, err := parseReady(arg)
			if err != nil {
				return 0, false, err
			}

			if r != 0 {
				interest = r
			}

			continue
		}

		if arg == "WAIT" {
			wait = true
			continue
		}

		return 0, false, fmt.Errorf("unexpected argument %q", arg)
	}

	return interest, wait, nil
}

func encodePayload(p []byte) string {
	if len(p) == 0 {
		return "-"
	}

	return hex.EncodeToString(p)
}

func decodePayload(s string) ([]byte, error) {
	if s == "-" {
		return nil, nil
	}

	return hex.DecodeString(s)
}
