package arp

import (
	"math/rand"
	"net/netip"
	"time"

	"github.com/tomvil/acd/internal/logger"
)

// State tracks where a session is in the RFC 5227 sequence.
type State int

const (
	StateIdle State = iota
	StateProbing
	StateProbed
	StateAnnouncing
	StateMonitoring
)

func (st State) String() string {
	switch st {
	case StateIdle:
		return "idle"
	case StateProbing:
		return "probing"
	case StateProbed:
		return "probed"
	case StateAnnouncing:
		return "announcing"
	case StateMonitoring:
		return "monitoring"
	}
	return "unknown"
}

// Session runs conflict detection for one interface/address pair. The owning
// layer sets the callbacks before calling Probe or Announce and must Free the
// session once the address is released; nothing here frees it implicitly.
//
// All methods must run on the event loop goroutine.
type Session struct {
	mgr   *Manager
	ifs   *ifaceState
	addr  netip.Addr
	state State

	probes int
	claims int

	// Conflicted receives every decoded frame claiming this session's
	// address. The message is nil when a lower layer confirmed the
	// duplicate without capturing a frame.
	Conflicted func(*Session, *Message)

	// Probed fires once, AnnounceWait after the last probe went unanswered.
	Probed func(*Session)

	// Announced fires once after the last announcement. The session then
	// stays registered in the monitoring state.
	Announced func(*Session)

	// Freed fires from Free after the session left its interface's
	// collection.
	Freed func(*Session)
}

// Addr returns the address under detection.
func (s *Session) Addr() netip.Addr { return s.addr }

// Iface returns the interface the session is bound to.
func (s *Session) Iface() Iface { return s.ifs.ifc }

// State returns the session's current phase.
func (s *Session) State() State { return s.state }

// Probe starts (or restarts) the probe cycle for the session's address.
func (s *Session) Probe() error {
	return s.mgr.strategy.probe(s)
}

// Announce starts (or restarts) the announcement cycle.
func (s *Session) Announce() error {
	return s.mgr.strategy.announce(s)
}

// probeDelay is the uniform jitter between probes. Collision avoidance on
// shared media, so math/rand is enough.
func probeDelay() time.Duration {
	return ProbeMin + time.Duration(rand.Int63n(int64(ProbeMax-ProbeMin)))
}

func (s *Session) probe1() {
	var next time.Duration

	s.probes++
	if s.probes < ProbeNum {
		next = probeDelay()
		s.mgr.sched.ScheduleAfter(next, s, s.probe1)
	} else {
		s.state = StateProbed
		next = AnnounceWait
		s.mgr.sched.ScheduleAfter(next, s, s.probed)
	}
	logger.Debug("%s: ARP probing %s (%d of %d), next in %.1f seconds",
		s.ifs.ifc.Name, s.addr, s.probes, ProbeNum, next.Seconds())

	// Probe frames carry the unspecified sender address.
	if err := s.mgr.request(s.ifs, netip.AddrFrom4([4]byte{}), s.addr); err != nil {
		// Lost probes are tolerated by the protocol; the next timer is
		// already scheduled.
		logger.Error("%s: arp request: %v", s.ifs.ifc.Name, err)
	}
}

func (s *Session) probed() {
	if s.Probed != nil {
		s.Probed(s)
	}
}

func (s *Session) announce1() {
	s.claims++
	if s.claims < AnnounceNum {
		logger.Debug("%s: ARP announcing %s (%d of %d), next in %d seconds",
			s.ifs.ifc.Name, s.addr, s.claims, AnnounceNum,
			int(AnnounceWait/time.Second))
	} else {
		logger.Debug("%s: ARP announcing %s (%d of %d)",
			s.ifs.ifc.Name, s.addr, s.claims, AnnounceNum)
	}

	if s.mgr.cfg.Mode == ModeUserspace {
		if err := s.mgr.request(s.ifs, s.addr, s.addr); err != nil {
			logger.Error("%s: arp request: %v", s.ifs.ifc.Name, err)
		}
	}

	next := s.announce1
	if s.claims >= AnnounceNum {
		next = s.announced
	}
	s.mgr.sched.ScheduleAfter(AnnounceWait, s, next)
}

func (s *Session) announced() {
	s.state = StateMonitoring
	if s.Announced != nil {
		s.Announced(s)
		return
	}
	// No callback: stay registered so ongoing conflicts keep dispatching.
}

// ReportConflict logs a detected conflict, naming the offending hardware
// address when a frame was captured.
func (s *Session) ReportConflict(m *Message) {
	if m != nil {
		logger.Error("%s: hardware address %s claims %s",
			s.ifs.ifc.Name, m.SenderHW, s.addr)
	} else {
		logger.Error("%s: DAD detected %s", s.ifs.ifc.Name, s.addr)
	}
}
