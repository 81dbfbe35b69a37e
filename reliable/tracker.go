// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package reliable implements acknowledgement, retransmission, and duplicate
// suppression for the datagram transport.
//
// A [Tracker] sends each reliable message up to 1+MaxRetries times, waiting
// ConfirmTimeout after each attempt for the peer to confirm it. Requests that
// expect an application-level reply additionally wait up to ReplyTimeout for
// the matching Reply once the request has been confirmed.
package reliable

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/creachadair/ipkchat/proto"
)

// Default parameters for a [Tracker].
const (
	DefaultConfirmTimeout = 250 * time.Millisecond
	DefaultReplyTimeout   = 5 * time.Second
	DefaultMaxRetries     = 3
)

// Config carries the parameters of a [Tracker].
type Config struct {
	// How long to wait for a Confirm after each send attempt.
	// If zero, DefaultConfirmTimeout is used.
	ConfirmTimeout time.Duration

	// How long to wait for a Reply after a request has been confirmed.
	// If zero, DefaultReplyTimeout is used.
	ReplyTimeout time.Duration

	// How many times to resend an unconfirmed message. If negative, no
	// retransmissions are sent. If zero, DefaultMaxRetries is used.
	MaxRetries int

	// If set, diagnostics are written to this logger.
	Logger *log.Logger
}

func (c Config) withDefaults() Config {
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = DefaultConfirmTimeout
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = DefaultReplyTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	} else if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Logger == nil {
		c.Logger = log.New(io.Discard, "", 0)
	}
	return c
}

// Outcome is the result of a reliable send.
type Outcome int

const (
	Confirmed   Outcome = iota + 1 // the peer confirmed the message
	Unconfirmed                    // all attempts went unconfirmed
	Canceled                       // the wait was abandoned by cancellation
)

func (o Outcome) String() string {
	switch o {
	case Confirmed:
		return "confirmed"
	case Unconfirmed:
		return "unconfirmed"
	case Canceled:
		return "canceled"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// RequestOutcome is the result of a request that expects a reply.
type RequestOutcome int

const (
	AppAck          RequestOutcome = iota + 1 // the matching Reply arrived
	NoTransportAck                            // the request was never confirmed
	NoAppAck                                  // confirmed, but no Reply arrived in time
	RequestCanceled                           // the wait was abandoned by cancellation
)

func (o RequestOutcome) String() string {
	switch o {
	case AppAck:
		return "replied"
	case NoTransportAck:
		return "unconfirmed"
	case NoAppAck:
		return "no reply"
	case RequestCanceled:
		return "canceled"
	}
	return fmt.Sprintf("RequestOutcome(%d)", int(o))
}

// A RequestResult reports the outcome of [Tracker.SendRequestReply].
type RequestResult struct {
	Outcome RequestOutcome
	Reply   *proto.Message // set when Outcome == AppAck
}

// A Sender transmits a single encoded datagram to the peer.
type Sender func(data []byte) error

// A Tracker maps outstanding message IDs to their pending acknowledgements.
// It is safe for concurrent use: typically one goroutine sends while another
// delivers acknowledgements from the peer.
type Tracker struct {
	cfg  Config
	send Sender

	μ      sync.Mutex
	pend   map[uint16]*pending // message ID → pending state
	done   chan struct{}       // closed by Cancel
	closed bool
}

// pending is the state of one reliable send. Its signal channels are each
// resolved at most once, under the tracker lock.
type pending struct {
	acked   chan struct{}       // closed when the peer confirms
	isAcked bool                // acked has been closed
	reply   chan *proto.Message // nil unless a reply is expected
	replied bool                // a reply has been delivered
	tries   int                 // number of send attempts so far
}

// NewTracker constructs a tracker that transmits datagrams with send.
func NewTracker(cfg Config, send Sender) *Tracker {
	return &Tracker{
		cfg:  cfg.withDefaults(),
		send: send,
		pend: make(map[uint16]*pending),
		done: make(chan struct{}),
	}
}

// Config reports the effective configuration of t.
func (t *Tracker) Config() Config { return t.cfg }

// SendReliable sends data, which must be an encoded message with the given
// ID, until the peer confirms it or all attempts are exhausted. Each retry
// resends the same bytes with the same ID. An error is reported only if the
// underlying send fails.
func (t *Tracker) SendReliable(ctx context.Context, id uint16, data []byte) (Outcome, error) {
	p, err := t.register(id, false)
	if err != nil {
		return Canceled, nil
	}
	defer t.release(id, p)
	return t.transmit(ctx, id, data, p)
}

// SendRequestReply sends data reliably, as SendReliable, and if the peer
// confirms it, waits for a Reply whose reference ID matches id. A Reply that
// arrives before the Confirm is retained and also counts as confirmation.
// The pending state for id is removed before SendRequestReply returns.
func (t *Tracker) SendRequestReply(ctx context.Context, id uint16, data []byte) (RequestResult, error) {
	p, err := t.register(id, true)
	if err != nil {
		return RequestResult{Outcome: RequestCanceled}, nil
	}
	defer t.release(id, p)

	out, err := t.transmit(ctx, id, data, p)
	if err != nil {
		return RequestResult{}, err
	}
	switch out {
	case Unconfirmed:
		return RequestResult{Outcome: NoTransportAck}, nil
	case Canceled:
		return RequestResult{Outcome: RequestCanceled}, nil
	}

	timer := time.NewTimer(t.cfg.ReplyTimeout)
	defer timer.Stop()
	select {
	case rsp := <-p.reply:
		return RequestResult{Outcome: AppAck, Reply: rsp}, nil
	case <-timer.C:
		t.cfg.Logger.Printf("no reply to message %d after %v", id, t.cfg.ReplyTimeout)
		return RequestResult{Outcome: NoAppAck}, nil
	case <-ctx.Done():
		return RequestResult{Outcome: RequestCanceled}, nil
	case <-t.done:
		return RequestResult{Outcome: RequestCanceled}, nil
	}
}

// transmit runs the send/wait loop for a registered message.
func (t *Tracker) transmit(ctx context.Context, id uint16, data []byte, p *pending) (Outcome, error) {
	for attempt := 0; attempt <= t.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			t.cfg.Logger.Printf("retransmitting message %d (attempt %d of %d)", id, attempt+1, t.cfg.MaxRetries+1)
			trackerMetrics.retransmits.Inc()
		}
		t.μ.Lock()
		p.tries++
		t.μ.Unlock()
		if err := t.send(data); err != nil {
			return 0, fmt.Errorf("send message %d: %w", id, err)
		}

		timer := time.NewTimer(t.cfg.ConfirmTimeout)
		select {
		case <-p.acked:
			timer.Stop()
			return Confirmed, nil
		case <-timer.C:
			// retry
		case <-ctx.Done():
			timer.Stop()
			return Canceled, nil
		case <-t.done:
			timer.Stop()
			return Canceled, nil
		}
	}
	t.cfg.Logger.Printf("message %d unconfirmed after %d attempts", id, t.cfg.MaxRetries+1)
	trackerMetrics.unconfirmed.Inc()
	return Unconfirmed, nil
}

// OnTransportAck records that the peer confirmed the message with the given
// ID, and reports whether that resolved a pending wait. Confirmations for
// unknown or already-confirmed IDs are expected when retransmissions race
// and are discarded.
func (t *Tracker) OnTransportAck(id uint16) bool {
	t.μ.Lock()
	defer t.μ.Unlock()
	p, ok := t.pend[id]
	if !ok || p.isAcked {
		t.cfg.Logger.Printf("discarding confirm for message %d (not pending)", id)
		trackerMetrics.staleAcks.Inc()
		return false
	}
	p.ack()
	return true
}

// OnApplicationAck delivers a Reply to the pending request its reference ID
// designates, and reports whether a waiting request accepted it. A Reply
// implies the request was received, so it also resolves the transport wait.
func (t *Tracker) OnApplicationAck(reply *proto.Message) bool {
	if reply.Kind != proto.KindReply || !reply.HasRef {
		return false
	}
	t.μ.Lock()
	defer t.μ.Unlock()
	p, ok := t.pend[reply.RefID]
	if !ok || p.reply == nil || p.replied {
		t.cfg.Logger.Printf("discarding reply to message %d (not pending)", reply.RefID)
		return false
	}
	p.replied = true
	p.reply <- reply // buffered, does not block
	p.ack()
	return true
}

// Cancel abandons all pending waits, which report cancellation to their
// callers. After Cancel, further sends return immediately as canceled.
// Cancel is safe to call more than once.
func (t *Tracker) Cancel() {
	t.μ.Lock()
	defer t.μ.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
}

// Pending reports the number of messages currently awaiting acknowledgement.
func (t *Tracker) Pending() int {
	t.μ.Lock()
	defer t.μ.Unlock()
	return len(t.pend)
}

func (t *Tracker) register(id uint16, wantReply bool) (*pending, error) {
	t.μ.Lock()
	defer t.μ.Unlock()
	if t.closed {
		return nil, errTrackerClosed
	}
	if _, ok := t.pend[id]; ok {
		// An ID can only collide after wrapping around with a send still
		// outstanding. The old send loses its acknowledgements.
		t.cfg.Logger.Printf("message id %d reused while pending", id)
	}
	p := &pending{acked: make(chan struct{})}
	if wantReply {
		p.reply = make(chan *proto.Message, 1)
	}
	t.pend[id] = p
	return p, nil
}

func (t *Tracker) release(id uint16, p *pending) {
	t.μ.Lock()
	defer t.μ.Unlock()
	if t.pend[id] == p {
		delete(t.pend, id)
	}
}

// ack resolves the transport wait of p. The caller must hold the tracker lock.
func (p *pending) ack() {
	if !p.isAcked {
		p.isAcked = true
		close(p.acked)
	}
}
