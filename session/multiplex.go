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

package session

import (
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/T12z/TCNopen-sub000/md"
	"github.com/T12z/TCNopen-sub000/pd"
	"github.com/T12z/TCNopen-sub000/protocol"
)

// DefaultMaxWait bounds GetInterval's return value when nothing is
// scheduled, so ProcessReceive is still called often enough to notice a
// new TCP connection or a late subscription timeout.
const DefaultMaxWait = 100 * time.Millisecond

// GetInterval computes how long the caller's select/poll should wait
// before the next call to ProcessSend is due, and returns the set of
// file descriptors that should be polled for readability (spec.md 4.5).
func (s *Session) GetInterval(now time.Time) (timeout time.Duration, readable []int) {
	min := DefaultMaxWait
	s.mu.Lock()
	workers := s.PDPub
	s.mu.Unlock()
	for i := 0; i < workers.Len(); i++ {
		if w := workers.Worker(i); w != nil {
			if d := w.GetInterval(now); d < min {
				min = d
			}
		}
	}

	fds := []int{s.pdFD, s.mdUDPFD}
	if s.mdTCPFD >= 0 {
		fds = append(fds, s.mdTCPFD)
	}
	for fd := range s.tcpConns {
		fds = append(fds, fd)
	}
	return min, fds
}

// ProcessReceive drains one datagram (UDP) or all complete messages
// (TCP) from each readable file descriptor and dispatches them to the
// PD subscriber table or MD session registry. It returns the number of
// events handled; it never blocks (MSG_DONTWAIT).
func (s *Session) ProcessReceive(readable []int) int {
	handled := 0
	for _, fd := range readable {
		switch {
		case fd == s.pdFD:
			handled += s.drainPD()
		case fd == s.mdUDPFD:
			handled += s.drainMDUDP()
		case fd == s.mdTCPFD && s.mdTCPFD >= 0:
			handled += s.acceptMDTCP()
		default:
			if _, ok := s.tcpConns[fd]; ok {
				handled += s.drainMDTCP(fd)
			}
		}
	}
	return handled
}

// ProcessSend walks the publisher due-list, fires PD/MD timeouts, and
// emits all due packets (spec.md 4.5).
func (s *Session) ProcessSend(now time.Time) {
	s.PD.CheckTimeouts(now)
	s.MD.CheckTimeouts(now)

	s.mu.Lock()
	workers := s.PDPub
	s.mu.Unlock()
	for i := 0; i < workers.Len(); i++ {
		if w := workers.Worker(i); w != nil {
			w.ProcessSend(now)
		}
	}
}

func (s *Session) drainPD() int {
	buf := make([]byte, 64*1024)
	n, from, err := unix.Recvfrom(s.pdFD, buf, unix.MSG_DONTWAIT)
	if err != nil {
		return 0
	}
	pkt, err := protocol.DecodePD(buf[:n])
	if err != nil {
		log.Debugf("session: dropping malformed PD frame: %v", err)
		s.Stats.IncCRCError()
		return 1
	}
	s.Stats.IncRX(pkt.Header.MsgType)

	identity := pd.Identity{
		ComId:        pkt.Header.ComId,
		ServiceId:    pkt.Header.ServiceId,
		EtbTopoCnt:   pkt.Header.EtbTopoCnt,
		OpTrnTopoCnt: pkt.Header.OpTrnTopoCnt,
	}

	if pkt.Header.MsgType == protocol.MessagePP {
		if err := s.PDPub.PullByIdentity(identity); err != nil {
			log.Debugf("session: pull request failed: %v", err)
		}
		return 1
	}

	srcIP := ipFromSockaddr(from)
	if !s.PD.Deliver(identity, srcIP, s.cfg.OwnIP, pkt.Header.SequenceCounter, pkt.Payload) {
		s.Stats.IncDropped()
	}
	return 1
}

func (s *Session) drainMDUDP() int {
	buf := make([]byte, 64*1024)
	n, _, err := unix.Recvfrom(s.mdUDPFD, buf, unix.MSG_DONTWAIT)
	if err != nil {
		return 0
	}
	pkt, err := protocol.DecodeMD(buf[:n])
	if err != nil {
		log.Debugf("session: dropping malformed MD frame: %v", err)
		s.Stats.IncCRCError()
		return 1
	}
	s.Stats.IncRX(pkt.Header.MsgType)
	s.handleMD(pkt)
	return 1
}

func (s *Session) acceptMDTCP() int {
	fd, _, err := unix.Accept(s.mdTCPFD)
	if err != nil {
		return 0
	}
	_ = unix.SetNonblock(fd, true)
	s.tcpConns[fd] = &md.TCPAccumulator{}
	return 1
}

func (s *Session) drainMDTCP(fd int) int {
	acc := s.tcpConns[fd]
	buf := make([]byte, 64*1024)
	n, err := unix.Read(fd, buf)
	if err != nil || n == 0 {
		_ = unix.Close(fd)
		delete(s.tcpConns, fd)
		return 0
	}
	frames, _ := acc.Feed(buf[:n])
	for _, frame := range frames {
		pkt, err := protocol.DecodeMD(frame)
		if err != nil {
			log.Debugf("session: dropping malformed MD/TCP frame: %v", err)
			s.Stats.IncCRCError()
			continue
		}
		s.Stats.IncRX(pkt.Header.MsgType)
		s.handleMD(pkt)
	}
	return len(frames)
}

func (s *Session) handleMD(pkt protocol.MDPacket) {
	if pkt.Header.MsgType == protocol.MessageMn || pkt.Header.MsgType == protocol.MessageMr {
		if s.Listeners.Dispatch(pkt, nil) {
			return
		}
	}
	s.MD.Receive(pkt)
}

func ipFromSockaddr(sa unix.Sockaddr) net.IP {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(v.Addr[:])
	case *unix.SockaddrInet6:
		return net.IP(v.Addr[:])
	default:
		return nil
	}
}
