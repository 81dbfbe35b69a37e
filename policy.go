// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package ipkchat

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/creachadair/ipkchat/proto"
)

// ReplyTimeoutPolicy selects what a session does when a request is not
// answered in time.
type ReplyTimeoutPolicy int

const (
	// FatalOnReplyTimeout reports the timeout to the server with an Error
	// message and ends the session with an error.
	FatalOnReplyTimeout ReplyTimeoutPolicy = iota + 1

	// RevertOnReplyTimeout treats the timeout as a failed request: the state
	// reverts as for a negative Reply and the session continues.
	RevertOnReplyTimeout
)

func (p ReplyTimeoutPolicy) String() string {
	switch p {
	case FatalOnReplyTimeout:
		return "fatal"
	case RevertOnReplyTimeout:
		return "revert"
	}
	return fmt.Sprintf("ReplyTimeoutPolicy(%d)", int(p))
}

// PolicyFor returns the default reply-timeout policy for transport t.
// Stream sessions treat a missing reply as fatal; datagram sessions revert.
func PolicyFor(t proto.Transport) ReplyTimeoutPolicy {
	if t == proto.Datagram {
		return RevertOnReplyTimeout
	}
	return FatalOnReplyTimeout
}

// DefaultReplyTimeout is the default time a session waits for the server to
// reply to a request.
const DefaultReplyTimeout = 5 * time.Second

// Options are settings for a [Session]. A nil *Options is ready for use and
// provides default values as described.
type Options struct {
	// The transport the session's channel uses. It affects the defaults of
	// other options and the way shutdown says goodbye. If zero, proto.Stream.
	Transport proto.Transport

	// How long to wait for the server to reply to an Auth or Join request on
	// the stream transport. If zero, DefaultReplyTimeout is used. Datagram
	// channels apply their own reply timeout and report its expiry as a
	// delivery error.
	ReplyTimeout time.Duration

	// What to do when a request is not answered in time. If zero, the
	// result of PolicyFor(Transport) is used.
	ReplyTimeoutPolicy ReplyTimeoutPolicy

	// Where user-visible lines are written. If nil, they are discarded.
	Console Console

	// If set, diagnostics are written to this logger.
	Logger *log.Logger
}

func (o *Options) transport() proto.Transport {
	if o == nil || o.Transport == 0 {
		return proto.Stream
	}
	return o.Transport
}

func (o *Options) replyTimeout() time.Duration {
	if o == nil || o.ReplyTimeout <= 0 {
		return DefaultReplyTimeout
	}
	return o.ReplyTimeout
}

func (o *Options) policy() ReplyTimeoutPolicy {
	if o == nil || o.ReplyTimeoutPolicy == 0 {
		return PolicyFor(o.transport())
	}
	return o.ReplyTimeoutPolicy
}

func (o *Options) console() Console {
	if o == nil || o.Console == nil {
		return discardConsole{}
	}
	return o.Console
}

func (o *Options) logger() *log.Logger {
	if o == nil || o.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return o.Logger
}

// byeTimeout is how long shutdown waits to deliver a Bye on transport t.
func byeTimeout(t proto.Transport) time.Duration {
	if t == proto.Datagram {
		return 2 * time.Second
	}
	return 1 * time.Second
}
