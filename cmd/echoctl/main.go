package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/gosuri/uilive"
	"github.com/mattn/go-isatty"

	"github.com/davrell/echodev/ctl"
	"github.com/davrell/echodev/echo"
)

func usage() {
	fmt.Fprint(os.Stderr, "Usage: echoctl <command> ...\n"+
		"\n"+
		"Where command is one of:\n"+
		"\tclear\t\t- clear buffer contents\n"+
		"\tevents [-rwW]\t- display I/O status events\n"+
		"\tpoll [-rwW]\t- display I/O status\n"+
		"\tresize <size>\t- set buffer size\n"+
		"\tsize\t\t- display buffer size\n")
	os.Exit(1)
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("echoctl: ")

	socket := flag.String("socket", "/tmp/echod.sock", "control socket path")
	dev := flag.String("device", "echo", "device name")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
	}

	client := ctl.NewClient(*socket)

	switch args[0] {
	case "clear":
		clear(client, *dev, args[1:])
	case "events":
		events(client, *dev, args[1:])
	case "poll":
		poll(client, *dev, args[1:])
	case "resize":
		resize(client, *dev, args[1:])
	case "size":
		size(client, *dev, args[1:])
	default:
		usage()
	}
}

func clear(client *ctl.Client, dev string, args []string) {
	if len(args) != 0 {
		usage()
	}

	if err := client.Clear(dev); err != nil {
		log.Fatalln(err)
	}
}

func resize(client *ctl.Client, dev string, args []string) {
	if len(args) != 1 {
		usage()
	}

	var size int
	if _, err := fmt.Sscanf(args[0], "%d", &size); err != nil {
		log.Fatalf("resize: bad size %q", args[0])
	}

	if err := client.Resize(dev, size); err != nil {
		log.Fatalln(err)
	}
}

func size(client *ctl.Client, dev string, args []string) {
	if len(args) != 0 {
		usage()
	}

	n, err := client.Size(dev)
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println(n)
}

// interestFlags parses the -r/-w/-W options shared by poll and events. No
// selection means both directions.
func interestFlags(name string, args []string) (echo.Ready, bool) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = usage
	read := fs.Bool("r", false, "watch read readiness")
	write := fs.Bool("w", false, "watch write readiness")
	wait := fs.Bool("W", false, "wait for readiness")
	fs.Parse(args)

	if fs.NArg() != 0 {
		usage()
	}

	var interest echo.Ready

	if *read {
		interest |= echo.Readable
	}

	if *write {
		interest |= echo.Writable
	}

	if interest == 0 {
		interest = echo.Readable | echo.Writable
	}

	return interest, *wait
}

func poll(client *ctl.Client, dev string, args []string) {
	interest, wait := interestFlags("poll", args)

	st, err := client.Poll(dev, interest, wait)
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Printf("Returned events: %s\n", st.Ready)

	if st.Ready&echo.Readable != 0 {
		fmt.Printf("%d bytes available to read\n", st.Avail)
	}

	if st.Ready&echo.Writable != 0 {
		fmt.Printf("room to write %d bytes\n", st.Room)
	}
}

func events(client *ctl.Client, dev string, args []string) {
	interest, wait := interestFlags("events", args)

	if wait && isatty.IsTerminal(os.Stdout.Fd()) {
		liveEvents(client, dev, interest)
		return
	}

	err := client.Events(dev, interest, wait, func(ev echo.Event) error {
		printEvent(os.Stdout, ev)
		return nil
	})
	if err != nil {
		log.Fatalln(err)
	}
}

// liveEvents keeps a refreshing display of the latest event per direction.
func liveEvents(client *ctl.Client, dev string, interest echo.Ready) {
	writer := uilive.New()

	count := writer.Newline()
	read := writer.Newline()
	write := writer.Newline()

	writer.Start()
	defer writer.Stop()

	var seen int

	err := client.Events(dev, interest, true, func(ev echo.Event) error {
		seen++
		fmt.Fprintf(count, "Events: %d\n", seen)

		switch ev.Ready {
		case echo.Readable:
			printEvent(read, ev)
		case echo.Writable:
			printEvent(write, ev)
		}

		return nil
	})
	if err != nil {
		log.Fatalln(err)
	}
}

func printEvent(w io.Writer, ev echo.Event) {
	if ev.EOF {
		fmt.Fprintf(w, "%s: EOF, %d bytes\n", ev.Ready, ev.Bytes)
		return
	}

	fmt.Fprintf(w, "%s: %d bytes\n", ev.Ready, ev.Bytes)
}
