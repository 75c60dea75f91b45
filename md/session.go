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

// Package md implements the message-data session engine (IEC
// 61375-2-3 C4): a UUID-keyed state machine for notify/request/reply/
// reply-query/confirm exchanges, over UDP (with timed retransmission)
// or TCP (length-prefixed reassembly).
package md

import (
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/T12z/TCNopen-sub000/protocol"
	"github.com/T12z/TCNopen-sub000/stats"
)

// State is a session's position in the MD state machine (spec.md 4.4).
type State int

const (
	// StateIdle is the initial state before any message is sent.
	StateIdle State = iota
	// StateAwaitingReply is a requester waiting on Mp/Mq/Me.
	StateAwaitingReply
	// StateAwaitingConfirm is a replier waiting for Mc after sending Mq.
	StateAwaitingConfirm
	// StateDone is a terminal success state.
	StateDone
	// StateFailed is a terminal failure state; Err names the cause.
	StateFailed
)

// FailReason names why a session entered StateFailed.
type FailReason int

const (
	// FailNone means the session has not failed.
	FailNone FailReason = iota
	// FailReplyTimeout means AWAITING_REPLY's deadline passed.
	FailReplyTimeout
	// FailConfirmTimeout means AWAITING_CONFIRM's deadline passed.
	FailConfirmTimeout
	// FailPeerError means an Me was received.
	FailPeerError
)

// DefaultMaxRetries is TRDP_MD_DEFAULT_SEND_PARAM's retry count for UDP
// MD requests: reply_timeout is divided into maxRetries+1 equal slices,
// one notify/request send per slice, so the last retry still leaves room
// for a reply to arrive before the deadline.
const DefaultMaxRetries = 5

// Transport sends one MD datagram to peer. Supplied by the caller so
// this package has no socket dependency of its own.
type Transport func(peer net.IP, frame []byte) error

// Callback is invoked on every state transition of a Session.
type Callback func(s *Session, event Event)

// Event names what just happened to a session, passed to Callback.
type Event int

const (
	// EventReply is a received Mp/Mq.
	EventReply Event = iota
	// EventConfirm is a received Mc.
	EventConfirm
	// EventTimeout is a reply or confirm deadline passing.
	EventTimeout
	// EventError is a received Me. Transport failures are returned to the
	// caller, not reported through the callback.
	EventError
	// EventDone is the session reaching StateDone.
	EventDone
)

// Session is one MD transaction, keyed by a randomly generated
// protocol.SessionID shared by both ends of the exchange.
type Session struct {
	ID       protocol.SessionID
	ComID    uint32
	Peer     net.IP
	Deadline time.Time

	mu             sync.Mutex
	state          State
	fail           FailReason
	expectedReplies int
	repliesSeen     int
	maxRetries      int
	retryInterval   time.Duration
	lastSend        time.Time
	payload         []byte
	callback        Callback
}

func newSessionID() protocol.SessionID {
	var id protocol.SessionID
	_, _ = rand.Read(id[:]) // crypto/rand never errors on Linux/Darwin
	return id
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FailReason returns why the session failed, if it has.
func (s *Session) FailReason() FailReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail
}

func (s *Session) setState(st State, fail FailReason, ev Event) {
	s.mu.Lock()
	s.state = st
	s.fail = fail
	cb := s.callback
	s.mu.Unlock()
	if cb != nil {
		cb(s, ev)
	}
}

// Registry holds every in-flight Session, keyed by its SessionID, and
// drives MD's UDP retry spacing and deadline enforcement from the work
// cycle (no session-per-goroutine timers).
type Registry struct {
	mu       sync.Mutex
	sessions map[protocol.SessionID]*Session
	send     Transport

	// Stats receives MD session lifecycle counters (timeouts, peer
	// failures, the live session gauge). Defaults to a private JSONStats
	// instance so a caller that doesn't care about reporting never hits a
	// nil Stats; a session normally replaces this with its own shared
	// instance right after construction.
	Stats stats.Stats
}

// NewRegistry returns an empty session registry sending MD frames via send.
func NewRegistry(send Transport) *Registry {
	return &Registry{
		sessions: make(map[protocol.SessionID]*Session),
		send:     send,
		Stats:    stats.NewJSONStats(),
	}
}

// Notify sends a fire-and-forget Mn: no session is kept after emission
// (spec.md 4.4: "no retransmit, no correlation kept after emission").
func (r *Registry) Notify(comID uint32, peer net.IP, payload []byte) error {
	return r.sendFrame(protocol.SessionID{}, comID, protocol.MessageMn, peer, payload, 0, 0)
}

// Request starts a requester-side session expecting expectedReplies
// replies (1..N) within replyTimeout, and sends the first Mr. The
// session completes on N replies or on timeout, whichever comes first.
func (r *Registry) Request(comID uint32, peer net.IP, payload []byte, expectedReplies int, replyTimeout time.Duration, cb Callback) (*Session, error) {
	if expectedReplies < 1 {
		expectedReplies = 1
	}
	maxRetries := DefaultMaxRetries
	s := &Session{
		ID:              newSessionID(),
		ComID:           comID,
		Peer:            peer,
		Deadline:        time.Now().Add(replyTimeout),
		state:           StateAwaitingReply,
		expectedReplies: expectedReplies,
		maxRetries:      maxRetries,
		retryInterval:   replyTimeout / time.Duration(maxRetries+1),
		payload:         payload,
		callback:        cb,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	if err := r.sendFrame(s.ID, comID, protocol.MessageMr, peer, payload, 0, uint32(expectedReplies)); err != nil {
		return nil, err
	}
	s.lastSend = time.Now()
	return s, nil
}

// Reply sends a terminal Mp against sid, ending the replier's
// involvement in the exchange (the requester's Session, if local,
// advances independently on receipt).
func (r *Registry) Reply(sid protocol.SessionID, comID uint32, peer net.IP, payload []byte) error {
	return r.sendFrame(sid, comID, protocol.MessageMp, peer, payload, 0, 0)
}

// ReplyQuery sends an Mq expecting an Mc within confirmTimeout, tracking
// a replier-side Session in StateAwaitingConfirm.
func (r *Registry) ReplyQuery(sid protocol.SessionID, comID uint32, peer net.IP, payload []byte, confirmTimeout time.Duration, cb Callback) (*Session, error) {
	s := &Session{
		ID:       sid,
		ComID:    comID,
		Peer:     peer,
		Deadline: time.Now().Add(confirmTimeout),
		state:    StateAwaitingConfirm,
		callback: cb,
	}
	r.mu.Lock()
	r.sessions[sid] = s
	r.mu.Unlock()

	if err := r.sendFrame(sid, comID, protocol.MessageMq, peer, payload, 0, 0); err != nil {
		return nil, err
	}
	return s, nil
}

// Confirm sends Mc against sid and closes it out on the requester side.
func (r *Registry) Confirm(sid protocol.SessionID, comID uint32, peer net.IP) error {
	if err := r.sendFrame(sid, comID, protocol.MessageMc, peer, nil, 0, 0); err != nil {
		return err
	}
	r.mu.Lock()
	s := r.sessions[sid]
	delete(r.sessions, sid)
	r.mu.Unlock()
	if s != nil {
		s.setState(StateDone, FailNone, EventDone)
	}
	return nil
}

// Receive applies an incoming MD packet to its session, advancing the
// state machine per spec.md 4.4's diagram. Unknown session IDs on a
// reply/confirm are dropped silently (a stale or duplicate retransmit).
func (r *Registry) Receive(pkt protocol.MDPacket) {
	r.mu.Lock()
	s := r.sessions[pkt.MD.SessionID]
	r.mu.Unlock()
	if s == nil {
		return
	}

	switch pkt.Header.MsgType {
	case protocol.MessageMp:
		s.mu.Lock()
		s.repliesSeen++
		done := s.repliesSeen >= s.expectedReplies
		s.mu.Unlock()
		if done {
			r.finish(s, StateDone, FailNone, EventDone)
		} else {
			s.setState(StateAwaitingReply, FailNone, EventReply)
		}
	case protocol.MessageMq:
		s.setState(StateAwaitingConfirm, FailNone, EventReply)
	case protocol.MessageMc:
		r.finish(s, StateDone, FailNone, EventConfirm)
	case protocol.MessageMe:
		r.finish(s, StateFailed, FailPeerError, EventError)
		r.Stats.IncMDSessionFailed()
	}
}

func (r *Registry) finish(s *Session, st State, fail FailReason, ev Event) {
	r.mu.Lock()
	delete(r.sessions, s.ID)
	r.mu.Unlock()
	s.setState(st, fail, ev)
}

// CheckTimeouts retries AWAITING_REPLY sessions at reply_timeout/(N+1)
// spacing and fails any session whose overall deadline has passed,
// called once per work cycle.
func (r *Registry) CheckTimeouts(now time.Time) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	r.Stats.SetMDSessionsActive(int64(len(sessions)))

	for _, s := range sessions {
		s.mu.Lock()
		state := s.state
		deadline := s.Deadline
		retryDue := state == StateAwaitingReply && !s.lastSend.IsZero() && now.Sub(s.lastSend) >= s.retryInterval
		payload := s.payload
		comID := s.ComID
		peer := s.Peer
		id := s.ID
		expected := s.expectedReplies
		s.mu.Unlock()

		if now.After(deadline) {
			reason := FailReplyTimeout
			if state == StateAwaitingConfirm {
				reason = FailConfirmTimeout
			}
			r.finish(s, StateFailed, reason, EventTimeout)
			r.Stats.IncMDSessionTimeout()
			continue
		}
		if retryDue {
			if err := r.sendFrame(id, comID, protocol.MessageMr, peer, payload, 0, uint32(expected)); err == nil {
				s.mu.Lock()
				s.lastSend = now
				s.mu.Unlock()
			}
		}
	}
}

func (r *Registry) sendFrame(sid protocol.SessionID, comID uint32, msgType protocol.MessageType, peer net.IP, payload []byte, numReplies, numExpReplies uint32) error {
	if r.send == nil {
		return fmt.Errorf("md: no transport configured")
	}
	buf := make([]byte, protocol.MDFrameSize+len(payload)+4)
	h := protocol.Header{ProtocolVersion: protocol.ProtocolVersion, MsgType: msgType, ComId: comID}
	mdh := protocol.MDHeader{SessionID: sid, NumExpReplies: numExpReplies, NumReplies: numReplies}
	n, err := protocol.EncodeMD(buf, h, mdh, payload)
	if err != nil {
		return err
	}
	return r.send(peer, buf[:n])
}
