package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/davrell/echodev/memfile"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: maprw <read|write> <file> <len> [offset]")
	os.Exit(1)
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("maprw: ")

	args := os.Args[1:]
	if len(args) < 3 || len(args) > 4 {
		usage()
	}

	var writable bool

	switch args[0] {
	case "read":
	case "write":
		writable = true
	default:
		usage()
	}

	length, err := strconv.ParseInt(args[2], 0, 64)
	if err != nil {
		log.Fatalf("failed to parse length %q", args[2])
	}

	var offset int64

	if len(args) == 4 {
		if offset, err = strconv.ParseInt(args[3], 0, 64); err != nil {
			log.Fatalf("failed to parse offset %q", args[3])
		}
	}

	region, err := memfile.OpenRange(args[1], offset, length, writable)
	if err != nil {
		log.Fatalln(err)
	}
	defer region.Close()

	if writable {
		n, err := io.ReadFull(os.Stdin, region.Bytes())
		if err != nil && err != io.ErrUnexpectedEOF {
			log.Fatalln(err)
		}

		if err := region.Flush(); err != nil {
			log.Fatalln(err)
		}

		log.Printf("wrote %d bytes", n)
		return
	}

	if _, err := os.Stdout.Write(region.Bytes()); err != nil {
		log.Fatalln(err)
	}
}
