/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package session implements the socket multiplexer (C5) and session
// registry (C6): binding a session's PD/MD sockets, funnelling them
// through a single cooperative work cycle, and keeping the publication
// snapshot that UpdateSession refreshes.
package session

import (
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/T12z/TCNopen-sub000/md"
	"github.com/T12z/TCNopen-sub000/pd"
	"github.com/T12z/TCNopen-sub000/protocol"
	"github.com/T12z/TCNopen-sub000/stats"
)

func farFuture() time.Time { return time.Now().Add(365 * 24 * time.Hour) }

// Config are the parameters of open_session (spec.md 4.6).
type Config struct {
	OwnIP        net.IP
	LeaderIP     net.IP
	Interface    string
	Workers      int
	MDTCPEnabled bool

	// Stats receives this session's counters and gauges. Defaults to a
	// private JSONStats instance (not served anywhere) if nil, so a
	// caller that doesn't care about reporting never has to wire one up.
	Stats stats.Stats
}

// Session owns all communication state for one network interface: the
// PD subscriber table and publisher scheduler, the MD session registry
// and listener table, and the raw sockets they send/receive over.
type Session struct {
	cfg Config

	PD        *pd.Table
	PDPub     *pd.WorkerPool
	MD        *md.Registry
	Listeners *md.ListenerTable
	Stats     stats.Stats

	pdFD     int
	mdUDPFD  int
	mdTCPFD  int // -1 if MDTCPEnabled is false
	tcpConns map[int]*md.TCPAccumulator

	mu         sync.Mutex
	indexed    bool // true once UpdateSession has built the slot index
	slots      []*pd.Publication
	pubWorkers map[pd.Handle]int // workerID each live publication lives on, for Unpublish
}

// OpenSession binds the session's UDP (and optionally TCP) sockets and
// returns a Session ready for the work cycle. No PD/MD traffic is sent
// or received until the caller starts calling GetInterval/
// ProcessReceive/ProcessSend.
func OpenSession(cfg Config) (*Session, error) {
	pdFD, err := bindUDP(cfg.OwnIP, protocol.PortPD)
	if err != nil {
		return nil, fmt.Errorf("session: binding PD socket: %w", err)
	}
	mdUDPFD, err := bindUDP(cfg.OwnIP, protocol.PortMD)
	if err != nil {
		_ = unix.Close(pdFD)
		return nil, fmt.Errorf("session: binding MD UDP socket: %w", err)
	}

	st := cfg.Stats
	if st == nil {
		st = stats.NewJSONStats()
	}

	s := &Session{
		cfg:        cfg,
		PD:         pd.NewTable(),
		Listeners:  md.NewListenerTable(),
		Stats:      st,
		pdFD:       pdFD,
		mdUDPFD:    mdUDPFD,
		mdTCPFD:    -1,
		tcpConns:   make(map[int]*md.TCPAccumulator),
		pubWorkers: make(map[pd.Handle]int),
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	s.PDPub = pd.NewWorkerPool(workers)
	s.MD = md.NewRegistry(func(peer net.IP, frame []byte) error {
		if err := s.sendUDP(s.mdUDPFD, peer, protocol.PortMD, frame); err != nil {
			return err
		}
		if mt, err := protocol.ProbeMsgType(frame); err == nil {
			s.Stats.IncTX(mt)
		}
		return nil
	})
	s.MD.Stats = st

	if cfg.MDTCPEnabled {
		mdTCPFD, err := listenTCP(cfg.OwnIP, protocol.PortMD)
		if err != nil {
			_ = unix.Close(pdFD)
			_ = unix.Close(mdUDPFD)
			return nil, fmt.Errorf("session: listening MD TCP socket: %w", err)
		}
		s.mdTCPFD = mdTCPFD
	}

	return s, nil
}

// CloseSession forces every pending MD session through the timeout path
// (each reports EventTimeout and counts as an MD timeout), then closes the
// sockets (spec.md 4.5 "Cancellation"). It raises no separate abort event
// and does not drain frames still queued on the sockets.
func (s *Session) CloseSession() {
	s.MD.CheckTimeouts(farFuture()) // force any in-flight session to fail out
	_ = unix.Close(s.pdFD)
	_ = unix.Close(s.mdUDPFD)
	if s.mdTCPFD >= 0 {
		_ = unix.Close(s.mdTCPFD)
	}
	for fd := range s.tcpConns {
		_ = unix.Close(fd)
	}
}

// UpdateSession records a flat snapshot of every publication currently
// held by the worker schedulers and marks the session indexed; calling it
// again just refreshes the snapshot (spec.md 4.6). The work cycle does not
// read the snapshot: GetInterval and ProcessSend scan each worker's
// scheduler directly, and no (cycle, phase) index is built.
func (s *Session) UpdateSession() {
	s.mu.Lock()
	defer s.mu.Unlock()

	slots := make([]*pd.Publication, 0, s.PDPub.Len())
	for i := 0; i < s.PDPub.Len(); i++ {
		sched := s.PDPub.Worker(i)
		if sched == nil {
			continue
		}
		sched.Range(func(p *pd.Publication) { slots = append(slots, p) })
	}
	s.slots = slots
	s.indexed = true
}

// Publish creates a new PD publication and wires its Emitter onto the
// session's PD socket, so ProcessSend's due-list scan actually puts a
// frame on the wire (spec.md §6 "publish"). p.Emit is overwritten; any
// caller-supplied Emit is ignored.
func (s *Session) Publish(p pd.PublishParams) pd.Handle {
	identity := p.Identity
	msgType := protocol.MessagePD
	if p.Interval == pd.PullMode {
		msgType = protocol.MessagePR // a pull-mode publication only ever answers a Pp
	}
	p.Emit = func(dest net.IP, payload []byte, seq uint32) error {
		hdr := protocol.Header{
			SequenceCounter: seq,
			ProtocolVersion: protocol.ProtocolVersion,
			MsgType:         msgType,
			ComId:           identity.ComId,
			ServiceId:       identity.ServiceId,
			EtbTopoCnt:      identity.EtbTopoCnt,
			OpTrnTopoCnt:    identity.OpTrnTopoCnt,
		}
		buf := make([]byte, protocol.HeaderSize+len(payload)+4)
		n, err := protocol.EncodePD(buf, hdr, payload)
		if err != nil {
			return err
		}
		if err := s.sendUDP(s.pdFD, dest, protocol.PortPD, buf[:n]); err != nil {
			return err
		}
		s.Stats.IncTX(msgType)
		return nil
	}

	h, workerID := s.PDPub.Publish(p)
	s.mu.Lock()
	s.pubWorkers[h] = workerID
	s.mu.Unlock()
	s.Stats.IncPublication()
	return h
}

// Unpublish destroys a publication created by Publish.
func (s *Session) Unpublish(h pd.Handle) bool {
	s.mu.Lock()
	workerID, ok := s.pubWorkers[h]
	if ok {
		delete(s.pubWorkers, h)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	if s.PDPub.Unpublish(workerID, h) {
		s.Stats.DecPublication()
		return true
	}
	return false
}

// Subscribe creates a subscription on the session's PD table and, when
// Params.DestIP names a multicast group, joins that group on the PD
// socket so multicast telegrams actually reach recvfrom (spec.md 4.2
// scenarios S1/S6, "same MC").
func (s *Session) Subscribe(p pd.Params) (pd.Handle, error) {
	if p.DestIP != nil && p.DestIP.IsMulticast() {
		if err := joinMulticast(s.pdFD, p.DestIP, s.cfg.OwnIP); err != nil {
			return 0, fmt.Errorf("session: joining multicast group %s: %w", p.DestIP, err)
		}
	}
	h := s.PD.Subscribe(p)
	s.Stats.IncSubscription()
	return h, nil
}

// Unsubscribe removes a subscription created by Subscribe.
func (s *Session) Unsubscribe(h pd.Handle) bool {
	ok := s.PD.Unsubscribe(h)
	if ok {
		s.Stats.DecSubscription()
	}
	return ok
}

// joinMulticast joins fd to group's multicast group on iface's IPv4
// address, via IP_ADD_MEMBERSHIP (spec.md DOMAIN STACK, unix.SetsockoptIPMreq).
func joinMulticast(fd int, group, iface net.IP) error {
	group4 := group.To4()
	if group4 == nil {
		return fmt.Errorf("session: IPv6 multicast join not supported")
	}
	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], group4)
	if iface4 := iface.To4(); iface4 != nil {
		copy(mreq.Interface[:], iface4)
	}
	return unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq)
}

func bindUDP(ip net.IP, port int) (int, error) {
	domain := unix.AF_INET
	if ip != nil && ip.To4() == nil {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sockaddrFor(ip, port)); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func listenTCP(ip net.IP, port int) (int, error) {
	domain := unix.AF_INET
	if ip != nil && ip.To4() == nil {
		domain = unix.AF_INET6
	}
	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if err := unix.Bind(fd, sockaddrFor(ip, port)); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 16); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func sockaddrFor(ip net.IP, port int) unix.Sockaddr {
	if ip4 := ip.To4(); ip4 != nil {
		var addr [4]byte
		copy(addr[:], ip4)
		return &unix.SockaddrInet4{Port: port, Addr: addr}
	}
	var addr [16]byte
	copy(addr[:], ip.To16())
	return &unix.SockaddrInet6{Port: port, Addr: addr}
}

func (s *Session) sendUDP(fd int, dest net.IP, port int, frame []byte) error {
	if dest == nil {
		return fmt.Errorf("session: no destination address")
	}
	if err := unix.Sendto(fd, frame, 0, sockaddrFor(dest, port)); err != nil {
		log.Debugf("session: sendto failed: %v", err)
		return err
	}
	return nil
}
