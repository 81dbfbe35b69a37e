// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package peers provides support code for running and testing sessions.
package peers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/creachadair/ipkchat"
	"github.com/creachadair/ipkchat/channel"
	"github.com/creachadair/ipkchat/proto"
	"github.com/creachadair/taskgroup"
)

// Local is a session connected to an in-memory server endpoint, suitable
// for testing. The caller plays the server by sending and receiving messages
// on Server.
type Local struct {
	Session *ipkchat.Session
	Server  *channel.DirectChannel
	Console *Transcript
}

// NewLocal starts a session with the given options, connected to the server
// end of a direct channel. If opts.Console is nil, the session writes to the
// returned transcript.
func NewLocal(opts *ipkchat.Options) *Local {
	var o ipkchat.Options
	if opts != nil {
		o = *opts
	}
	tr := new(Transcript)
	if o.Console == nil {
		o.Console = tr
	}
	cli, srv := channel.Direct()
	return &Local{
		Session: ipkchat.NewSession(&o).Start(cli),
		Server:  srv,
		Console: tr,
	}
}

// Stop shuts down the session without saying goodbye, closes the server
// end, and reports the status of the session.
func (p *Local) Stop() error {
	p.Session.Shutdown("stopped", false)
	p.Server.Close()
	return p.Session.Wait()
}

// Transcript is an [ipkchat.Console] that records the lines written to it.
// A zero Transcript is ready for use.
type Transcript struct {
	μ     sync.Mutex
	lines []string
	ready chan struct{} // closed and replaced when a line is added
}

// Printf implements the [ipkchat.Console] interface.
func (t *Transcript) Printf(format string, args ...any) {
	t.μ.Lock()
	defer t.μ.Unlock()
	t.lines = append(t.lines, strings.TrimSuffix(fmt.Sprintf(format, args...), "\n"))
	if t.ready != nil {
		close(t.ready)
		t.ready = nil
	}
}

// Lines returns a copy of the lines recorded so far.
func (t *Transcript) Lines() []string {
	t.μ.Lock()
	defer t.μ.Unlock()
	return append([]string(nil), t.lines...)
}

// WaitFor blocks until a line containing substr has been recorded, or ctx
// ends. It returns the first such line.
func (t *Transcript) WaitFor(ctx context.Context, substr string) (string, error) {
	for {
		t.μ.Lock()
		for _, line := range t.lines {
			if strings.Contains(line, substr) {
				t.μ.Unlock()
				return line, nil
			}
		}
		if t.ready == nil {
			t.ready = make(chan struct{})
		}
		ready := t.ready
		t.μ.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for %q: %w", substr, ctx.Err())
		}
	}
}

// An Accepter accepts connections from clients.
type Accepter interface {
	Accept(context.Context) (ipkchat.Channel, error)
}

// A Handler serves the server side of one connection. The channel is closed
// when the handler returns.
type Handler func(context.Context, ipkchat.Channel) error

// Loop accepts connections from acc and runs handle for each one in a
// goroutine. Loop continues until acc closes or ctx ends.
//
// When ctx terminates, the contexts of all running handlers end. When acc
// closes, the loop waits for running handlers to exit before returning.
func Loop(ctx context.Context, acc Accepter, handle Handler) error {
	g := taskgroup.New(nil)
	for {
		ch, err := acc.Accept(ctx)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				err = nil
			}
			g.Wait()
			return err
		}
		g.Go(func() error {
			sctx, cancel := context.WithCancel(ctx)
			defer cancel()
			defer ch.Close()

			// Unblock a handler waiting in Recv when ctx ends.
			stop := context.AfterFunc(sctx, func() { ch.Close() })
			defer stop()
			return handle(sctx, ch)
		})
	}
}

// NetAccepter adapts a net.Listener to the Accepter interface. Each
// connection is served as a stream channel.
func NetAccepter(lst net.Listener) Accepter {
	return netAccepter{Listener: lst}
}

type netAccepter struct {
	net.Listener
}

func (n netAccepter) Accept(ctx context.Context) (ipkchat.Channel, error) {
	// A net.Listener does not obey a context, so simulate it by closing the
	// listener if ctx ends. The ok channel allows the context watcher to clean
	// up when we return before ctx ends.
	ok := make(chan struct{})
	defer close(ok)
	taskgroup.Go(func() error {
		select {
		case <-ctx.Done():
			n.Listener.Close()
		case <-ok:
			// release the waiter
		}
		return nil
	})

	conn, err := n.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return channel.NewStream(conn), nil
}

// Scripted returns a Handler that plays a simple server: it answers every
// Auth and Join request with the reply produced by answer, echoes nothing
// else, and returns when the client says goodbye or the connection ends.
// Each message the server receives is passed to record, if it is not nil.
func Scripted(answer func(*proto.Message) *proto.Message, record func(*proto.Message)) Handler {
	return func(ctx context.Context, ch ipkchat.Channel) error {
		for {
			m, err := ch.Recv()
			if err != nil {
				if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
					return nil
				}
				return ignoreEOF(err)
			}
			if record != nil {
				record(m)
			}
			switch {
			case m.Kind == proto.KindBye:
				return nil
			case m.Kind.IsRequest():
				if rsp := answer(m); rsp != nil {
					if err := ch.Send(ctx, rsp); err != nil {
						return err
					}
				}
			}
		}
	}
}

func ignoreEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
