package arp

import (
	"bytes"
	"fmt"
	"net/netip"

	"github.com/tomvil/acd/internal/logger"
)

// Config carries the manager's fixed choices.
type Config struct {
	Mode Mode

	// MaxSessions caps sessions per interface; 0 means unlimited.
	MaxSessions int
}

// ifaceState is the per-interface record: the shared transport descriptor and
// the sessions using it, in insertion order. It exists only while at least
// one session references the interface; whoever removes the last session
// closes the descriptor.
type ifaceState struct {
	ifc      Iface
	fd       int
	sessions []*Session
}

func (st *ifaceState) contains(s *Session) bool {
	for _, cur := range st.sessions {
		if cur == s {
			return true
		}
	}
	return false
}

func (st *ifaceState) remove(s *Session) bool {
	for i, cur := range st.sessions {
		if cur == s {
			st.sessions = append(st.sessions[:i], st.sessions[i+1:]...)
			return true
		}
	}
	return false
}

func (st *ifaceState) interest() []netip.Addr {
	addrs := make([]netip.Addr, 0, len(st.sessions))
	for _, s := range st.sessions {
		addrs = append(addrs, s.addr)
	}
	return addrs
}

// Manager owns every interface context and session. It is single-threaded:
// every method must run on the event loop goroutine, and callbacks run to
// completion before the next event is dispatched.
type Manager struct {
	sched    Scheduler
	tr       Transport
	reg      Registry
	cfg      Config
	strategy strategy
	ifaces   map[int]*ifaceState
}

func NewManager(sched Scheduler, tr Transport, reg Registry, cfg Config) *Manager {
	m := &Manager{
		sched:  sched,
		tr:     tr,
		reg:    reg,
		cfg:    cfg,
		ifaces: make(map[int]*ifaceState),
	}
	if cfg.Mode == ModeKernel {
		m.strategy = kernelACD{}
	} else {
		m.strategy = userspaceACD{}
	}
	return m
}

// Find returns the session for the interface/address pair, or ErrNotFound.
func (m *Manager) Find(ifaceName string, addr netip.Addr) (*Session, error) {
	ifc, err := m.reg.Lookup(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ifaceName, err)
	}
	st := m.ifaces[ifc.Index]
	if st == nil {
		return nil, ErrNotFound
	}
	for _, s := range st.sessions {
		if s.addr == addr {
			return s, nil
		}
	}
	return nil, ErrNotFound
}

// Create returns the existing session for the pair or registers a new one.
// The interface context is created lazily; its descriptor stays closed until
// the first probe or announcement. On failure no partial state remains.
func (m *Manager) Create(ifaceName string, addr netip.Addr) (*Session, error) {
	ifc, err := m.reg.Lookup(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ifaceName, err)
	}

	st := m.ifaces[ifc.Index]
	created := false
	if st == nil {
		st = &ifaceState{ifc: ifc, fd: -1}
		m.ifaces[ifc.Index] = st
		created = true
	} else {
		for _, s := range st.sessions {
			if s.addr == addr {
				return s, nil
			}
		}
	}

	if m.cfg.MaxSessions > 0 && len(st.sessions) >= m.cfg.MaxSessions {
		if created {
			delete(m.ifaces, ifc.Index)
		}
		logger.Error("%s: %v", ifaceName, ErrSessionLimit)
		return nil, fmt.Errorf("%s: %w", ifaceName, ErrSessionLimit)
	}

	s := &Session{mgr: m, ifs: st, addr: addr}
	st.sessions = append(st.sessions, s)
	m.installFilter(st)
	return s, nil
}

// Cancel drops the session's pending timers without destroying it.
func (m *Manager) Cancel(s *Session) {
	m.sched.CancelAll(s)
}

// Free cancels the session's timers, removes it from its interface, runs the
// Freed callback and, if it was the last session, tears the context down.
// Freeing an already-freed session is a no-op, so callbacks may free their
// own session during dispatch.
func (m *Manager) Free(s *Session) {
	if s == nil {
		return
	}
	st := s.ifs
	m.sched.CancelAll(s)
	if !st.remove(s) {
		return
	}
	if s.Freed != nil {
		s.Freed(s)
	}
	if len(st.sessions) == 0 {
		m.closeTransport(st)
		delete(m.ifaces, st.ifc.Index)
	} else {
		m.installFilter(st)
	}
}

// FreeAllBut frees every session on the interface except keep; pass nil to
// free them all.
func (m *Manager) FreeAllBut(ifaceName string, keep *Session) error {
	ifc, err := m.reg.Lookup(ifaceName)
	if err != nil {
		return fmt.Errorf("%s: %w", ifaceName, err)
	}
	st := m.ifaces[ifc.Index]
	if st == nil {
		return nil
	}
	for _, s := range append([]*Session(nil), st.sessions...) {
		if s == keep || !st.contains(s) {
			continue
		}
		m.Free(s)
	}
	return nil
}

// Drop frees every session on the interface and force-closes its transport.
func (m *Manager) Drop(ifaceName string) error {
	if err := m.FreeAllBut(ifaceName, nil); err != nil {
		return err
	}
	ifc, err := m.reg.Lookup(ifaceName)
	if err != nil {
		return fmt.Errorf("%s: %w", ifaceName, err)
	}
	if st := m.ifaces[ifc.Index]; st != nil {
		m.closeTransport(st)
	}
	return nil
}

// AddressEvent is an externally reported change in a bound address's status,
// meaningful under ModeKernel where the OS performs the probing.
type AddressEvent struct {
	LinkIndex  int
	Addr       netip.Addr
	Deleted    bool
	Duplicated bool
	Usable     bool
}

// HandleAddrChange reacts to an address event: a confirmed duplicate invokes
// Conflicted with no message detail, a usable verdict invokes Probed.
// Deletions are ignored; freeing the session on address release belongs to
// the owning layer.
func (m *Manager) HandleAddrChange(ev AddressEvent) {
	if ev.Deleted {
		return
	}
	st := m.ifaces[ev.LinkIndex]
	if st == nil {
		return
	}
	for _, s := range append([]*Session(nil), st.sessions...) {
		if s.addr != ev.Addr || !st.contains(s) {
			continue
		}
		if ev.Duplicated {
			if s.Conflicted != nil {
				s.Conflicted(s, nil)
			}
		} else if ev.Usable {
			if s.Probed != nil {
				s.Probed(s)
			}
		}
	}
}

// SessionInfo is a point-in-time view of a session for introspection.
type SessionInfo struct {
	Iface  string
	Addr   netip.Addr
	State  State
	Probes int
	Claims int
}

// Snapshot lists every registered session. Like everything else it must run
// on the loop goroutine; external callers go through the loop's Do.
func (m *Manager) Snapshot() []SessionInfo {
	var out []SessionInfo
	for _, st := range m.ifaces {
		for _, s := range st.sessions {
			out = append(out, SessionInfo{
				Iface:  st.ifc.Name,
				Addr:   s.addr,
				State:  s.state,
				Probes: s.probes,
				Claims: s.claims,
			})
		}
	}
	return out
}

// open lazily opens the interface's transport, registers it for readiness
// and installs the current interest filter. Idempotent.
func (m *Manager) open(st *ifaceState) error {
	if st.fd != -1 {
		return nil
	}
	fd, err := m.tr.Open(st.ifc)
	if err != nil {
		logger.Error("%s: open arp transport: %v", st.ifc.Name, err)
		return fmt.Errorf("%s: open arp transport: %w", st.ifc.Name, err)
	}
	st.fd = fd
	m.sched.RegisterReadable(fd, func() { m.readReady(st) })
	m.installFilter(st)
	return nil
}

// closeTransport deregisters and closes the descriptor. Idempotent.
func (m *Manager) closeTransport(st *ifaceState) {
	if st.fd == -1 {
		return
	}
	m.sched.DeregisterReadable(st.fd)
	if err := m.tr.Close(st.fd); err != nil {
		logger.Error("%s: close arp transport: %v", st.ifc.Name, err)
	}
	st.fd = -1
}

func (m *Manager) installFilter(st *ifaceState) {
	if st.fd == -1 {
		return
	}
	if err := m.tr.InstallFilter(st.ifc, st.fd, st.interest()); err != nil {
		logger.Error("%s: install arp filter: %v", st.ifc.Name, err)
	}
}

// request encodes and sends one ARP request on the interface's descriptor.
func (m *Manager) request(st *ifaceState, sender, target netip.Addr) error {
	frame, err := EncodeRequest(st.ifc, sender, target)
	if err != nil {
		return err
	}
	if st.fd == -1 {
		return ErrClosed
	}
	if _, err := m.tr.Send(st.ifc, st.fd, etherTypeARP, frame); err != nil {
		return err
	}
	return nil
}

// readReady drains every datagram behind one readiness notification. A read
// error closes the context and abandons the rest of the batch; dispatch
// callbacks may also empty the context mid-batch, which ends it too.
func (m *Manager) readReady(st *ifaceState) {
	buf := make([]byte, MaxFrameLen)
	for {
		n, last, err := m.tr.Read(st.ifc, st.fd, buf)
		if err != nil {
			logger.Error("%s: arp read: %v", st.ifc.Name, err)
			m.closeTransport(st)
			return
		}
		if n > 0 {
			m.dispatch(st, buf[:n])
		}

		cur := m.ifaces[st.ifc.Index]
		if cur == nil || cur.fd == -1 {
			return
		}
		if last {
			return
		}
	}
}

// dispatch decodes one frame and notifies every session whose address the
// sender claims or targets. Opcode is irrelevant: seeing our address on the
// wire at all is the conflict. The session slice is snapshotted and each
// entry revalidated so a callback freeing any session cannot skip or
// double-notify the rest.
func (m *Manager) dispatch(st *ifaceState, raw []byte) {
	msg, err := Decode(raw)
	if err != nil {
		// Malformed frames are expected noise on shared media.
		return
	}

	for _, ifc := range m.reg.List() {
		if len(ifc.HWAddr) > 0 && bytes.Equal(msg.SenderHW, ifc.HWAddr) {
			logger.Debug("%s: ignoring ARP from self", st.ifc.Name)
			return
		}
	}

	for _, s := range append([]*Session(nil), st.sessions...) {
		if msg.SenderIP != s.addr && msg.TargetIP != s.addr {
			continue
		}
		if !st.contains(s) {
			continue
		}
		if s.Conflicted != nil {
			s.Conflicted(s, msg)
		}
	}
}
