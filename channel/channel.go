// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package channel provides implementations of the ipkchat.Channel interface.
//
// A [Stream] carries the text encoding over a TCP connection, and a
// [Datagram] carries the binary encoding over UDP with acknowledgement and
// retransmission. [Direct] connects two endpoints in memory, for testing.
package channel

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/creachadair/ipkchat/proto"
)

// directBuffer is the number of messages each direction of a direct pair
// can hold before Send blocks.
const directBuffer = 64

// Direct constructs a connected pair of in-memory channels that pass messages
// directly without encoding them. Messages sent to A are received by B and
// vice versa.
//
// Closing either end causes Recv on the other to report io.EOF once it has
// received any messages already sent.
func Direct() (A, B *DirectChannel) {
	a2b := make(chan *proto.Message, directBuffer)
	b2a := make(chan *proto.Message, directBuffer)
	ad := &closer{ch: make(chan struct{})}
	bd := &closer{ch: make(chan struct{})}
	A = &DirectChannel{out: a2b, in: b2a, self: ad, peer: bd}
	B = &DirectChannel{out: b2a, in: a2b, self: bd, peer: ad}
	return
}

// A DirectChannel is one end of an in-memory channel pair.
type DirectChannel struct {
	out  chan<- *proto.Message
	in   <-chan *proto.Message
	self *closer
	peer *closer
}

type closer struct {
	once sync.Once
	ch   chan struct{}
}

func (c *closer) close() (err error) {
	err = net.ErrClosed
	c.once.Do(func() { close(c.ch); err = nil })
	return
}

// Send implements a method of the [ipkchat.Channel] interface.
// The message is delivered as-is; the receiver sees the same pointer.
func (d *DirectChannel) Send(ctx context.Context, m *proto.Message) error {
	select {
	case <-d.self.ch:
		return net.ErrClosed
	case <-d.peer.ch:
		return io.ErrClosedPipe
	default:
	}
	select {
	case d.out <- m:
		return nil
	case <-d.self.ch:
		return net.ErrClosed
	case <-d.peer.ch:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv implements a method of the [ipkchat.Channel] interface.
func (d *DirectChannel) Recv() (*proto.Message, error) {
	select {
	case m := <-d.in:
		return m, nil
	case <-d.self.ch:
		return nil, net.ErrClosed
	case <-d.peer.ch:
		select {
		case m := <-d.in:
			return m, nil
		default:
			return nil, io.EOF
		}
	}
}

// Close implements a method of the [ipkchat.Channel] interface.
func (d *DirectChannel) Close() error { return d.self.close() }
