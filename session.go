// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package ipkchat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/creachadair/ipkchat/proto"
	"github.com/creachadair/ipkchat/reliable"
	"github.com/creachadair/mds/mstr"
	"github.com/creachadair/taskgroup"
)

// A Channel carries protocol messages between a session and the server.
//
// The methods of an implementation must be safe for concurrent use by one
// receiver and any number of senders.
type Channel interface {
	// Send the message to the server. Send blocks until the message has been
	// handed to the transport, or, on transports with acknowledgement, until
	// it has been acknowledged or given up on. An unacknowledged message is
	// reported with an error of concrete type *reliable.DeliveryError.
	Send(context.Context, *proto.Message) error

	// Receive the next available message from the server. A malformed
	// message is reported as an error of concrete type *proto.FramingError,
	// after which the channel remains usable.
	Recv() (*proto.Message, error)

	// Close the channel, causing any pending send or receive operations to
	// terminate and report an error. After a channel is closed, all further
	// operations on it must report an error.
	Close() error
}

// An EndpointMigrator is a Channel whose server address may change once
// during the session. A session enables migration while it is waiting for
// the server to answer its authentication request, and disables it
// otherwise.
type EndpointMigrator interface {
	AllowMigration(bool)
}

// A MessageLogger logs a message exchanged with the server.
type MessageLogger func(MessageInfo)

// A MessageInfo combines a message and a flag indicating whether the message
// was sent or received.
type MessageInfo struct {
	*proto.Message      // the message being logged
	Sent           bool // whether the message was sent (true) or received (false)
}

func (m MessageInfo) String() string {
	if m.Sent {
		return fmt.Sprintf("send %v", m.Message)
	}
	return fmt.Sprintf("recv %v", m.Message)
}

// Identity is the name under which a session is known to the server.
type Identity struct {
	Username    string
	DisplayName string
	ChannelID   string
}

// A Session is the client side of an IPK-CHAT conversation with a server.
//
// Call Start with a channel to start the session. Once started, a session
// runs until Shutdown is called, the server ends the conversation, the
// channel fails, or a protocol violation occurs. Use Wait to wait for the
// session to exit and report its status.
//
// Call Submit to perform a user command, or Run to perform all the commands
// from a CommandSource. Submit is safe for concurrent use, but the protocol
// permits only one outstanding request at a time: commands that are not
// valid in the current state are rejected with a message to the console.
type Session struct {
	opts *Options
	con  Console
	log  *log.Logger

	ch     Channel
	tasks  *taskgroup.Group
	ctx    context.Context // ends when shutdown begins to release waits
	cancel context.CancelFunc
	stop   sync.Once
	done   chan struct{} // closed when shutdown is complete

	μ sync.Mutex

	state   State
	prev    State         // the state in effect before the outstanding request
	id      Identity      // confirmed identity
	pend    Identity      // identity captured by the outstanding request
	gate    chan struct{} // closed when the outstanding request resolves; or nil
	closing bool          // shutdown has begun; inbound messages are ignored
	err     error         // terminal status
	mlog    MessageLogger
	onExit  func(error)
}

// NewSession constructs a new unstarted session with the given options.
// A nil *Options provides default values.
func NewSession(opts *Options) *Session {
	return &Session{
		opts:  opts,
		con:   opts.console(),
		log:   opts.logger(),
		state: Start,
		done:  make(chan struct{}),
	}
}

// Start starts the session running on ch, which must already be connected
// to the server. Start does not block; call Wait to wait for the session to
// exit and report its status.
func (s *Session) Start(ch Channel) *Session {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.ch != nil {
		panic("session is already started")
	}
	s.ch = ch
	s.tasks = taskgroup.New(nil)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.setStateLocked(Connected)
	rootMetrics.sessionsActive.Inc()

	s.tasks.Go(func() error {
		for {
			m, err := ch.Recv()
			var fe *proto.FramingError
			if errors.As(err, &fe) {
				s.violation("Received malformed message from server.", fe.Error())
				continue
			} else if err != nil {
				s.recvFailed(err)
				return nil
			}
			if err := s.safeDispatch(m); err != nil {
				s.con.Printf("ERROR: %v", err)
				s.shutdown("dispatch failed", false, err)
				return nil
			}
		}
	})
	return s
}

// State reports the current state of the session.
func (s *Session) State() State {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.state
}

// Identity reports the confirmed identity of the session. Its fields are
// empty until authentication succeeds.
func (s *Session) Identity() Identity {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.id
}

// LogMessages registers a callback that will be invoked for each message
// exchanged with the server, including messages that are ignored.
//
// Passing a nil callback disables message logging. The logger is invoked
// synchronously with dispatch, and after each successful send.
func (s *Session) LogMessages(log MessageLogger) *Session {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.mlog = log
	return s
}

// OnExit registers a callback to be invoked when the session terminates. The
// callback is executed synchronously at the end of shutdown, with the same
// error value that would be reported by the Wait method.
//
// Only one exit callback can be registered at a time; if f == nil the
// callback is removed.
func (s *Session) OnExit(f func(error)) *Session {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.onExit = f
	return s
}

// Done returns a channel that is closed when the session has shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until s terminates and reports its status.
//
// If s was never started, or ended gracefully, Wait returns nil; otherwise it
// returns the error that ended the session. A protocol violation is reported
// as an error wrapping ErrProtocol.
func (s *Session) Wait() error {
	s.μ.Lock()
	t := s.tasks
	s.μ.Unlock()
	if t == nil {
		return nil // the session is not running
	}
	<-s.done
	t.Wait()

	s.μ.Lock()
	defer s.μ.Unlock()
	if treatErrorAsSuccess(s.err) {
		return nil
	}
	return s.err
}

// Run submits each command from src in turn until src is exhausted, ctx
// ends, or the session ends, then shuts the session down and reports its
// status as Wait does. Exhausting src or ending ctx is a local shutdown,
// which says goodbye to the server if a conversation is in progress.
func (s *Session) Run(ctx context.Context, src CommandSource) error {
	s.μ.Lock()
	started := s.ch != nil
	s.μ.Unlock()
	if !started {
		return errors.New("session is not started")
	}

	rctx, cancel := s.sendContext(ctx)
	defer cancel()
	for {
		cmd, err := src.Next(rctx)
		if err != nil {
			s.endRun(ctx, "end of input", err)
			break
		}
		if err := s.Submit(rctx, cmd); err != nil {
			s.endRun(ctx, "command failed", err)
			break
		}
	}
	return s.Wait()
}

// endRun shuts down s after Run stops consuming commands because of err.
func (s *Session) endRun(ctx context.Context, reason string, err error) {
	switch {
	case s.isClosing():
		return // the session ended on its own
	case ctx.Err() != nil:
		reason = "interrupted"
	case !treatErrorAsSuccess(err):
		reason = fmt.Sprintf("%s: %v", reason, err)
	}
	s.Shutdown(reason, true)
}

// Submit performs a single user command. Commands that are not valid in the
// current state are reported to the console and otherwise ignored. For an
// Authenticate or JoinChannel command, Submit blocks until the server
// replies, the reply times out, or ctx ends.
//
// Submit reports an error only if the command could not be attempted: the
// session has ended, ctx ended, or the channel failed. A delivery failure of
// an acknowledged transport is reported to the console, not to the caller.
func (s *Session) Submit(ctx context.Context, cmd Command) error {
	s.μ.Lock()
	state, started, closing := s.state, s.ch != nil, s.closing
	s.μ.Unlock()
	if !started {
		return errors.New("session is not started")
	} else if closing || state == End {
		return ErrSessionClosed
	}

	switch c := cmd.(type) {
	case Authenticate:
		return s.authenticate(ctx, state, c)
	case JoinChannel:
		return s.join(ctx, state, c)
	case SendChat:
		return s.chat(ctx, state, c)
	case Rename:
		s.rename(state, c)
	case ShowHelp:
		s.con.Printf("%s", HelpText)
	case Unrecognized:
		s.rejectf("%s", c.Reason)
	default:
		return fmt.Errorf("unknown command type %T", cmd)
	}
	return nil
}

func (s *Session) authenticate(ctx context.Context, state State, c Authenticate) error {
	switch state {
	case Authenticating:
		s.rejectf("Please wait for authentication to complete.")
	case Joining:
		s.rejectf("Please wait for join operation to complete.")
	case Joined:
		s.rejectf("Already authenticated.")
	default:
		m := s.clip(proto.Auth(c.Username, c.DisplayName, c.Secret))
		return s.request(ctx, m, Authenticating, Identity{
			Username:    m.Username,
			DisplayName: m.DisplayName,
		})
	}
	return nil
}

func (s *Session) join(ctx context.Context, state State, c JoinChannel) error {
	switch state {
	case Authenticating:
		s.rejectf("Please wait for authentication to complete.")
	case Joining:
		s.rejectf("Please wait for join operation to complete.")
	case Joined:
		m := s.clip(proto.Join(c.ChannelID, s.Identity().DisplayName))
		return s.request(ctx, m, Joining, Identity{ChannelID: m.ChannelID})
	default:
		s.rejectf("Must authenticate first. Use /auth {Username} {Secret} {DisplayName}")
	}
	return nil
}

func (s *Session) chat(ctx context.Context, state State, c SendChat) error {
	switch state {
	case Authenticating:
		s.rejectf("Please wait for authentication to complete.")
		return nil
	case Joining:
		s.rejectf("Please wait for join operation to complete.")
		return nil
	case Joined:
	default:
		s.rejectf("Authentication and joining a channel are required to chat.")
		return nil
	}

	m := s.clip(proto.Chat(s.Identity().DisplayName, c.Text))
	sctx, cancel := s.sendContext(ctx)
	defer cancel()
	if err := s.send(sctx, m); err != nil {
		var de *reliable.DeliveryError
		if errors.As(err, &de) {
			s.con.Printf("ERROR: Server did not confirm receipt of your message (ID: %d). It might not have been delivered.", de.ID)
			return nil
		}
		return s.sendFailed(ctx, err)
	}
	return nil
}

func (s *Session) rename(state State, c Rename) {
	if !state.authenticated() {
		s.rejectf("Must authenticate successfully first to set your display name.")
		return
	}
	name := c.DisplayName
	if len(name) > proto.MaxDisplayNameLen {
		name = mstr.Trunc(name, proto.MaxDisplayNameLen)
		s.con.Printf("ERROR: Display name was too long and has been truncated to %d characters.", proto.MaxDisplayNameLen)
	}
	s.μ.Lock()
	defer s.μ.Unlock()
	s.log.Printf("display name changed from %q to %q", s.id.DisplayName, name)
	s.id.DisplayName = name
}

// request sends a request message and blocks until it is resolved. The
// session enters state next while the request is outstanding, and pend
// records the identity to commit if the server accepts it.
func (s *Session) request(ctx context.Context, m *proto.Message, next State, pend Identity) error {
	s.μ.Lock()
	if s.closing {
		s.μ.Unlock()
		return ErrSessionClosed
	}
	gate := make(chan struct{})
	s.gate = gate
	s.prev = s.state
	s.pend = pend
	s.setStateLocked(next)
	s.μ.Unlock()

	sctx, cancel := s.sendContext(ctx)
	defer cancel()
	if err := s.send(sctx, m); err != nil {
		var de *reliable.DeliveryError
		if errors.As(err, &de) {
			s.requestFailed(m.Kind, gate, de)
			return nil
		} else if ctx.Err() != nil {
			s.abandon(m.Kind, gate)
		}
		return s.sendFailed(ctx, err)
	}

	timer := time.NewTimer(s.opts.replyTimeout())
	defer timer.Stop()
	select {
	case <-gate:
		return nil
	case <-timer.C:
		s.requestFailed(m.Kind, gate, nil)
		return nil
	case <-sctx.Done():
		if s.isClosing() {
			return ErrSessionClosed
		}
		s.abandon(m.Kind, gate)
		return ctx.Err()
	}
}

// abandon withdraws an outstanding request whose caller stopped waiting for
// it, restoring the state from before the request was sent.
func (s *Session) abandon(kind proto.Kind, gate chan struct{}) {
	s.μ.Lock()
	defer s.μ.Unlock()
	if s.gate != gate || s.closing {
		return // resolved concurrently
	}
	s.log.Printf("abandoned %v request in state %v", kind, s.state)
	s.setStateLocked(resolveReply(s.state, s.prev, false))
	s.pend = Identity{}
	s.releaseGateLocked()
}

// requestFailed applies the reply-timeout policy to an outstanding request
// that the server did not answer. If de == nil, the session timed out
// waiting for a reply; otherwise the channel gave up on delivery.
func (s *Session) requestFailed(kind proto.Kind, gate chan struct{}, de *reliable.DeliveryError) {
	rootMetrics.replyTimeouts.Inc()
	var notice string
	switch {
	case de == nil:
		notice = "Server did not reply in time."
	case errors.Is(de, reliable.ErrUnconfirmed):
		notice = fmt.Sprintf("Server did not confirm %v request (ID: %d).", kind, de.ID)
	default:
		notice = fmt.Sprintf("Server did not reply to %v request (ID: %d) within the timeout period.", kind, de.ID)
	}

	s.μ.Lock()
	if s.gate != gate || s.closing {
		s.μ.Unlock()
		return // resolved concurrently
	}
	if s.opts.policy() == FatalOnReplyTimeout {
		s.μ.Unlock()
		s.violation(notice, fmt.Sprintf("No reply to %v received in time.", kind))
		return
	}
	defer s.μ.Unlock()
	s.con.Printf("ERROR: %s", notice)
	s.setStateLocked(resolveReply(s.state, s.prev, false))
	s.pend = Identity{}
	s.releaseGateLocked()
}

// send transmits m on the channel, and records it if successful.
func (s *Session) send(ctx context.Context, m *proto.Message) error {
	if err := s.ch.Send(ctx, m); err != nil {
		var de *reliable.DeliveryError
		if errors.As(err, &de) {
			rootMetrics.sendFailures.WithLabelValues(m.Kind.String()).Inc()
		}
		return err
	}
	rootMetrics.messagesSent.WithLabelValues(m.Kind.String()).Inc()
	s.logMessage(m, true)
	return nil
}

// sendFailed handles a failure to send a command to the server. A failure
// caused by shutdown or by the end of ctx is reported to the caller;
// anything else is a transport error that ends the session.
func (s *Session) sendFailed(ctx context.Context, err error) error {
	if s.isClosing() {
		return ErrSessionClosed
	} else if ctx.Err() != nil {
		return ctx.Err()
	}
	s.con.Printf("ERROR: %v", err)
	s.shutdown("send failed", false, fmt.Errorf("send: %w", err))
	return err
}

// sendContext returns a context for an operation on behalf of the caller's
// ctx that also ends when the session begins to shut down.
func (s *Session) sendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	sctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return sctx, func() { stop(); cancel() }
}

// clip truncates the fields of m to their limits, warning about each.
func (s *Session) clip(m *proto.Message) *proto.Message {
	for _, t := range m.Truncate() {
		s.log.Printf("truncated %s from %d to %d bytes", t.Field, t.Len, t.Limit)
		s.con.Printf("ERROR: %v.", t)
	}
	return m
}

func (s *Session) rejectf(msg string, args ...any) {
	rootMetrics.commandsRejected.Inc()
	s.con.Printf("ERROR: "+msg, args...)
}

func (s *Session) logMessage(m *proto.Message, sent bool) {
	s.μ.Lock()
	f := s.mlog
	s.μ.Unlock()
	if f != nil {
		f(MessageInfo{Message: m, Sent: sent})
	}
}

func (s *Session) isClosing() bool {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.closing
}

// setStateLocked moves s to state next. The caller must hold s.μ.
func (s *Session) setStateLocked(next State) {
	if s.state == next {
		return
	}
	s.log.Printf("state %v → %v", s.state, next)
	s.state = next
	rootMetrics.stateChanges.WithLabelValues(next.String()).Inc()
	if mig, ok := s.ch.(EndpointMigrator); ok {
		mig.AllowMigration(next == Authenticating)
	}
}

// releaseGateLocked unblocks the outstanding request, if any. The caller
// must hold s.μ.
func (s *Session) releaseGateLocked() {
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

// displayNameLocked reports the name to use in messages the session sends
// on its own behalf. The caller must hold s.μ.
func (s *Session) displayNameLocked() string {
	if s.id.DisplayName != "" {
		return s.id.DisplayName
	} else if s.pend.DisplayName != "" {
		return s.pend.DisplayName
	}
	return "Client"
}
