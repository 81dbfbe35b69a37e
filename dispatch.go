// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package ipkchat

import (
	"context"
	"fmt"

	"github.com/creachadair/ipkchat/proto"
)

// action is what dispatch does with an inbound message after classifying it.
type action int

const (
	ignore      action = iota // drop the message
	display                   // show a chat message
	resolved                  // a reply resolved the outstanding request
	stray                     // log an unexpected but harmless reply
	peerError                 // the server reported an error and is leaving
	peerBye                   // the server is leaving
	unexpected                // protocol violation
)

// safeDispatch dispatches m, converting a panic into an error.
func (s *Session) safeDispatch(m *proto.Message) (err error) {
	defer func() {
		if x := recover(); x != nil {
			err = fmt.Errorf("dispatch panicked (recovered): %v", x)
		}
	}()
	s.dispatch(m)
	return nil
}

// dispatch routes an inbound message from the server.
func (s *Session) dispatch(m *proto.Message) {
	rootMetrics.messagesRecv.WithLabelValues(m.Kind.String()).Inc()
	s.logMessage(m, false)

	state, act := s.classify(m)
	switch act {
	case ignore:
		s.log.Printf("ignoring %v in state %v", m, state)
	case display:
		s.con.Printf("%s: %s", m.DisplayName, m.Content)
	case resolved:
		// handled by classify
	case stray:
		s.log.Printf("ignoring unexpected reply in state %v: %v", state, m)
	case peerError:
		s.con.Printf("ERROR FROM %s: %s", m.DisplayName, m.Content)
		s.shutdown("server reported an error", false, nil)
	case peerBye:
		s.con.Printf("%s ended the conversation.", m.DisplayName)
		s.shutdown("server said goodbye", false, nil)
	case unexpected:
		s.violation(
			fmt.Sprintf("Received unexpected server message in state %v (%v).", state, m.Kind),
			fmt.Sprintf("Unexpected %v message in state %v.", m.Kind, state),
		)
	}
}

// classify decides what to do with m in the current state. A Reply that
// resolves the outstanding request is applied before classify returns, so
// that the transition is atomic with respect to command submission.
func (s *Session) classify(m *proto.Message) (State, action) {
	s.μ.Lock()
	defer s.μ.Unlock()

	state := s.state
	if s.closing || state == End {
		return state, ignore
	}
	switch m.Kind {
	case proto.KindErr:
		return state, peerError
	case proto.KindBye:
		return state, peerBye
	case proto.KindReply:
		if state.awaitingReply() {
			s.resolveLocked(m)
			return state, resolved
		} else if state == Joined {
			return state, stray
		}
	case proto.KindChat:
		if state == Joined {
			return state, display
		}
	}
	return state, unexpected
}

// resolveLocked applies a reply to the outstanding request. The caller must
// hold s.μ.
func (s *Session) resolveLocked(m *proto.Message) {
	cur := s.state
	if m.OK {
		s.con.Printf("Action Success: %s", m.Content)
		if cur == Authenticating {
			s.id.Username = s.pend.Username
			s.id.DisplayName = s.pend.DisplayName
			s.id.ChannelID = proto.DefaultChannel
		} else {
			s.id.ChannelID = s.pend.ChannelID
		}
	} else {
		s.con.Printf("Action Failure: %s", m.Content)
	}
	s.pend = Identity{}
	s.setStateLocked(resolveReply(cur, s.prev, m.OK))
	s.releaseGateLocked()
}

// violation ends the session because of a protocol violation. It tells the
// user and the server what went wrong, then shuts down without saying
// goodbye. The notification is sent by a separate task so that the inbound
// loop can continue to process acknowledgements.
func (s *Session) violation(notice, detail string) {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.closing {
		return
	}
	s.closing = true
	name := s.displayNameLocked()

	rootMetrics.violations.Inc()
	s.log.Printf("protocol violation: %s", detail)
	s.con.Printf("ERROR: %s", notice)

	// The task must be added before s.μ is released, so that a concurrent
	// shutdown cannot let Wait return ahead of it.
	s.tasks.Go(func() error {
		ctx, cancel := context.WithTimeout(s.ctx, byeTimeout(s.opts.transport()))
		defer cancel()
		if err := s.send(ctx, proto.Error(name, detail)); err != nil {
			s.log.Printf("sending error to server: %v", err)
		}
		s.shutdown(detail, false, fmt.Errorf("%w: %s", ErrProtocol, detail))
		return nil
	})
}

// recvFailed handles a receive error from the channel.
func (s *Session) recvFailed(err error) {
	if s.isClosing() {
		return // the channel was closed by shutdown
	}
	if treatErrorAsSuccess(err) {
		s.con.Printf("Server closed the connection.")
		s.shutdown("connection closed by server", false, nil)
		return
	}
	s.con.Printf("ERROR: Connection lost: %v", err)
	s.shutdown("receive failed", false, fmt.Errorf("receive: %w", err))
}
