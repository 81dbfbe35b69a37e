// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package ipkchat

import (
	"context"

	"github.com/creachadair/ipkchat/proto"
)

// Shutdown ends the session and blocks until shutdown is complete. If
// locallyInitiated is true and a conversation with the server is in
// progress, the session says goodbye first. Only the first call has any
// effect; later calls return immediately.
//
// Shutdown releases any command waiting for a reply, moves the session to
// the End state, and closes the channel.
func (s *Session) Shutdown(reason string, locallyInitiated bool) {
	s.shutdown(reason, locallyInitiated, nil)
}

// shutdown ends the session with the given terminal status.
func (s *Session) shutdown(reason string, local bool, status error) {
	s.μ.Lock()
	started := s.ch != nil
	s.μ.Unlock()
	if !started {
		return
	}
	s.stop.Do(func() {
		s.log.Printf("shutting down: %s", reason)

		s.μ.Lock()
		s.closing = true
		state := s.state
		name := s.displayNameLocked()
		if s.err == nil {
			s.err = status
		}
		s.μ.Unlock()

		if local && state.sendsBye() {
			// The Bye has its own deadline, since the session context has not
			// yet been canceled.
			ctx, cancel := context.WithTimeout(context.Background(), byeTimeout(s.opts.transport()))
			if err := s.send(ctx, proto.Bye(name)); err != nil {
				s.log.Printf("sending bye: %v", err)
			}
			cancel()
		}

		s.cancel()

		s.μ.Lock()
		s.releaseGateLocked()
		s.setStateLocked(End)
		s.μ.Unlock()

		if err := s.ch.Close(); err != nil && !treatErrorAsSuccess(err) {
			s.log.Printf("closing channel: %v", err)
		}
		rootMetrics.sessionsActive.Dec()
		close(s.done)

		s.μ.Lock()
		f, err := s.onExit, s.err
		s.μ.Unlock()
		if f != nil {
			if treatErrorAsSuccess(err) {
				err = nil
			}
			f(err)
		}
	})
}
