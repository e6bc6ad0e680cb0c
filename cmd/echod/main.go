package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"

	"github.com/davrell/echodev/ctl"
	"github.com/davrell/echodev/device"
	"github.com/davrell/echodev/echo"
)

func main() {
	socket := flag.String("socket", "/tmp/echod.sock", "control socket path")
	name := flag.String("device", "echo", "device name")
	capacity := flag.Int("capacity", echo.DefaultCapacity, "initial buffer capacity")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	registry := device.NewRegistry()

	if _, err := registry.Create(*name, *capacity); err != nil {
		log.Fatalln(err)
	}
	defer registry.Close()

	os.Remove(*socket)

	lis, err := net.Listen("unix", *socket)
	if err != nil {
		log.Fatalln(err)
	}
	defer os.Remove(*socket)

	log.Printf("serving device %q on %s", *name, *socket)

	srv := &ctl.Server{Registry: registry}

	if err := srv.Serve(ctx, lis); err != nil {
		log.Fatalln(err)
	}
}
