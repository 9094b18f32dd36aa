// Command hwhd is the process entry point for the core runtime: it owns
// the explicit driver registry, device pool, coordinator, and
// introspection API for their whole process lifetime. Drivers are
// registered as explicit values at startup, not as a side effect of
// package loading, and the process shuts down the same way a gin-backed
// server would: signal-driven, with a bounded drain on every open
// subsystem.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hwh/internal/config"
	"hwh/internal/enumerator"
	"hwh/internal/trace"
	"hwh/pkg/backend"
	"hwh/pkg/backend/bmp"
	"hwh/pkg/backend/bolt"
	"hwh/pkg/backend/buspirate"
	"hwh/pkg/backend/pool"
	"hwh/pkg/backend/stlink"
	"hwh/pkg/backend/tigard"
	"hwh/pkg/coordinator"

	"hwh/internal/api"
)

var devicesFile = flag.String("devices", "", "path to a static device descriptor list (JSON); overrides the configured enumerator socket path")

func newRegistry() *backend.Registry {
	reg := backend.NewRegistry()
	reg.Register(buspirate.Driver())
	reg.Register(tigard.Driver())
	reg.Register(bolt.Driver())
	reg.Register(bmp.Driver())
	reg.Register(stlink.Driver())
	return reg
}

func main() {
	flag.Parse()
	cfg := config.MustLoad()

	bus := trace.NewBus(1024)
	if tap, err := trace.NewEBPFTap(bus); err != nil {
		log.Printf("hwhd: ebpf tap unavailable: %v", err)
	} else {
		go tap.Run()
		defer tap.Close()
	}

	devicesPath := cfg.EnumeratorSocket
	if *devicesFile != "" {
		devicesPath = *devicesFile
	}
	enum, err := enumerator.Load(devicesPath)
	if err != nil {
		log.Fatalf("hwhd: load device list: %v", err)
	}

	reg := newRegistry()
	p := pool.New(reg, enum)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	descs, err := p.Scan(ctx)
	cancel()
	if err != nil {
		log.Fatalf("hwhd: initial scan: %v", err)
	}
	log.Printf("hwhd: found %d device(s)", len(descs))
	for _, d := range descs {
		bus.Emit("pool", trace.LevelInfo, "discovered device", map[string]any{"id": d.ID, "kind": d.Kind})
	}

	coord := coordinator.New(p, 256)

	router := api.New(p, coord)
	srv := &http.Server{Addr: cfg.APIBindAddr, Handler: router.Engine()}

	go func() {
		log.Printf("hwhd: introspection API listening on %s", cfg.APIBindAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("hwhd: api server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("hwhd: shutting down")
	if coord.Armed() {
		if err := coord.Disarm(); err != nil {
			log.Printf("hwhd: disarm: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.SubprocessShutdown)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("hwhd: api server shutdown: %v", err)
	}

	for _, d := range descs {
		if p.Connected(d.ID) {
			if err := p.Close(d.ID); err != nil {
				log.Printf("hwhd: close %s: %v", d.ID, err)
			}
		}
	}
}
