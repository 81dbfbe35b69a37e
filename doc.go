// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package ipkchat implements the client side of the IPK-CHAT protocol.
//
// IPK-CHAT is a small chat protocol. A client authenticates with a server,
// joins channels, and exchanges chat messages with the other members of its
// current channel. The protocol runs over either of two transports: a
// stream transport (TCP) carrying one text line per message, and a datagram
// transport (UDP) carrying one binary message per datagram, with explicit
// confirmation and retransmission.
//
// # Sessions
//
// The core type defined by this package is the [Session]. A session tracks
// the protocol state of one conversation with a server over a [Channel].
//
// To create a new, unstarted session:
//
//	s := ipkchat.NewSession(&ipkchat.Options{
//	   Transport: proto.Stream,
//	   Console:   ipkchat.WriterConsole(os.Stdout),
//	})
//
// To start the session, call the Start method with a channel connected to
// the server:
//
//	s.Start(ch)
//
// The session runs until [Session.Shutdown] is called, the server ends the
// conversation, the channel fails, or a protocol violation occurs. Call
// [Session.Wait] to wait for the session to exit and report its status:
//
//	if err := s.Wait(); err != nil {
//	   log.Fatalf("Session failed: %v", err)
//	}
//
// # Channels
//
// The [Channel] interface defines the ability to send and receive protocol
// messages. The channel package provides implementations for both wire
// transports, and an in-memory channel for testing.
//
// # Commands
//
// User intent reaches a session as a [Command]. Use [Session.Submit] to
// perform one command, or [Session.Run] to perform each command from a
// [CommandSource] until it is exhausted:
//
//	err := s.Run(ctx, input.NewReader(os.Stdin))
//
// Commands that are not valid in the current state are reported to the
// console and do not affect the session. At most one request (Auth or Join)
// may be outstanding at a time.
//
// # Reply Timeouts
//
// A request that the server does not answer in time is handled according
// to a [ReplyTimeoutPolicy]. By default a missing reply is fatal on the
// stream transport, and reverts the request on the datagram transport. Use
// [Options] to select a policy explicitly.
//
// # Metrics
//
// Sessions maintain a collection of Prometheus metrics, registered with the
// default registry with names prefixed by "ipkchat_".
package ipkchat
