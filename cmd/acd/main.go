package main

import (
	"flag"
	"log"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomvil/acd/internal/addrwatch"
	"github.com/tomvil/acd/internal/api"
	"github.com/tomvil/acd/internal/logger"
	"github.com/tomvil/acd/pkg/arp"
	"github.com/tomvil/acd/pkg/eloop"
	"github.com/tomvil/acd/pkg/netutils"
)

var (
	listenInterface = flag.String("interface", "", "Interface to claim the address on")
	address         = flag.String("address", "", "IPv4 address to probe and announce")
	kernelACD       = flag.Bool("kernel", false, "Rely on kernel duplicate address detection")
	apiAddress      = flag.String("api", "", "Address to serve the sessions API on (empty = disabled)")
	debug           = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()
	logger.Init(*debug)

	if *listenInterface == "" || *address == "" {
		log.Fatal("Both -interface and -address are required")
	}

	addr, err := netip.ParseAddr(*address)
	if err != nil || !addr.Is4() {
		log.Fatalf("Invalid IPv4 address %q", *address)
	}

	loop, err := eloop.New()
	if err != nil {
		log.Fatalf("Failed to create event loop: %v", err)
	}

	mode := arp.ModeUserspace
	if *kernelACD {
		mode = arp.ModeKernel
	}
	mgr := arp.NewManager(loop, netutils.NewPacketTransport(), netutils.NewRegistry(),
		arp.Config{Mode: mode})

	done := make(chan struct{})
	if *kernelACD {
		if err := addrwatch.Watch(loop, mgr, done); err != nil {
			log.Fatalf("Failed to subscribe to address updates: %v", err)
		}
	}

	if *apiAddress != "" {
		a := &api.API{Loop: loop, Manager: mgr}
		http.HandleFunc("/sessions", a.ListSessionsHandler)
		go func() {
			if err := http.ListenAndServe(*apiAddress, nil); err != nil {
				logger.Error("API server stopped: %v", err)
			}
		}()
	}

	exitCode := 0

	// The loop is not running yet, so the session can be set up directly.
	session, err := mgr.Create(*listenInterface, addr)
	if err != nil {
		log.Fatalf("Failed to create ARP session: %v", err)
	}
	session.Conflicted = func(s *arp.Session, m *arp.Message) {
		s.ReportConflict(m)
		if m == nil {
			// Confirmed by the kernel without a captured frame; ask the
			// wire who owns it.
			if hw, err := netutils.ConfirmConflict(s.Addr(), s.Iface().Name); err == nil {
				logger.Error("%s: %s is in use by %s", s.Iface().Name, s.Addr(), hw)
			}
		}
		mgr.Free(s)
		exitCode = 1
		loop.Stop()
	}
	session.Probed = func(s *arp.Session) {
		logger.Info("%s: %s is free to use, announcing", s.Iface().Name, s.Addr())
		if err := s.Announce(); err != nil {
			logger.Error("%s: announce: %v", s.Iface().Name, err)
		}
	}
	session.Announced = func(s *arp.Session) {
		logger.Info("%s: claimed %s, monitoring for conflicts", s.Iface().Name, s.Addr())
	}
	if err := session.Probe(); err != nil {
		log.Fatalf("Failed to start probing: %v", err)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		close(done)
		loop.Do(func() {
			if err := mgr.Drop(*listenInterface); err != nil {
				logger.Error("Failed to drop %s: %v", *listenInterface, err)
			}
		})
		loop.Stop()
	}()

	if err := loop.Run(); err != nil {
		log.Fatalf("Event loop failed: %v", err)
	}
	loop.Close()
	os.Exit(exitCode)
}
