package arp

import (
	"github.com/tomvil/acd/internal/logger"
)

// Mode selects who performs address conflict detection.
type Mode int

const (
	// ModeUserspace sends probe and announcement frames itself and runs
	// the RFC 5227 timers.
	ModeUserspace Mode = iota

	// ModeKernel relies on the operating system performing duplicate
	// address detection. Probing becomes a no-op resolved by address
	// events (Manager.HandleAddrChange); announcements keep their cadence
	// so callbacks fire on schedule, but no frames are sent.
	ModeKernel
)

// strategy is chosen once from Config.Mode; the sessions themselves carry no
// mode conditionals beyond the announce send.
type strategy interface {
	probe(*Session) error
	announce(*Session) error
}

type userspaceACD struct{}

func (userspaceACD) probe(s *Session) error {
	if err := s.mgr.open(s.ifs); err != nil {
		return err
	}
	s.mgr.sched.CancelAll(s)
	s.state = StateProbing
	s.probes = 0
	logger.Debug("%s: probing for %s", s.ifs.ifc.Name, s.addr)
	s.probe1()
	return nil
}

func (userspaceACD) announce(s *Session) error {
	if err := s.mgr.open(s.ifs); err != nil {
		return err
	}
	s.mgr.sched.CancelAll(s)
	s.state = StateAnnouncing
	s.claims = 0
	s.announce1()
	return nil
}

type kernelACD struct{}

func (kernelACD) probe(s *Session) error {
	// The kernel probes on address assignment; the verdict arrives as an
	// address event carrying the duplicated or usable flag.
	s.state = StateProbing
	s.probes = 0
	logger.Debug("%s: waiting on kernel DAD for %s", s.ifs.ifc.Name, s.addr)
	return nil
}

func (kernelACD) announce(s *Session) error {
	// Kernel announcement timings are not randomized, so the callback
	// cadence can run without sending.
	s.mgr.sched.CancelAll(s)
	s.state = StateAnnouncing
	s.claims = 0
	s.announce1()
	return nil
}
