// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package channel_test

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/creachadair/ipkchat/channel"
	"github.com/creachadair/ipkchat/proto"
	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

// writeParts writes each of parts to conn as a separate write, then closes
// conn.
func writeParts(t *testing.T, conn net.Conn, parts ...string) *taskgroup.Group {
	t.Helper()
	g := taskgroup.New(nil)
	g.Go(func() error {
		defer conn.Close()
		for _, p := range parts {
			if _, err := io.WriteString(conn, p); err != nil {
				t.Errorf("Write %q: %v", p, err)
				return nil
			}
		}
		return nil
	})
	return g
}

func TestStreamSplitRead(t *testing.T) {
	defer leaktest.Check(t)()
	cli, srv := net.Pipe()
	s := channel.NewStream(cli)
	defer s.Close()

	g := writeParts(t, srv, "MSG FROM A", " IS hi\r\n")
	m, err := s.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if diff := cmp.Diff(proto.Chat("A", "hi"), m); diff != "" {
		t.Errorf("Message (-want, +got):\n%s", diff)
	}

	// The partial line is delivered exactly once.
	if m, err := s.Recv(); !errors.Is(err, io.EOF) {
		t.Errorf("Recv: got (%v, %v), want EOF", m, err)
	}
	g.Wait()
}

func TestStreamLines(t *testing.T) {
	defer leaktest.Check(t)()
	cli, srv := net.Pipe()
	s := channel.NewStream(cli)
	defer s.Close()

	g := writeParts(t, srv,
		"REPLY OK IS Auth success.\r\nMSG FROM Server IS welcome\r\n", // two in one
		"bogus line\r\n",
		"MSG FROM bob IS line one\nline two\r\n",
		"BYE FROM Server\r\nREPLY OK IS ", // trailing partial line is dropped
	)
	want := []*proto.Message{
		proto.Reply(true, "Auth success.", 0),
		proto.Chat("Server", "welcome"),
		nil, // framing error
		proto.Chat("bob", "line one\nline two"),
		proto.Bye("Server"),
	}
	want[0].HasRef = false
	for i, w := range want {
		m, err := s.Recv()
		if w == nil {
			var fe *proto.FramingError
			if !errors.As(err, &fe) || fe.Kind != proto.Unparseable {
				t.Errorf("Recv %d: got (%v, %v), want unparseable", i+1, m, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Recv %d: unexpected error: %v", i+1, err)
		}
		if diff := cmp.Diff(w, m); diff != "" {
			t.Errorf("Recv %d (-want, +got):\n%s", i+1, diff)
		}
	}
	if m, err := s.Recv(); !errors.Is(err, io.EOF) {
		t.Errorf("Recv: got (%v, %v), want EOF", m, err)
	}
	g.Wait()
}

func TestStreamOverlong(t *testing.T) {
	defer leaktest.Check(t)()
	cli, srv := net.Pipe()
	s := channel.NewStream(cli)
	defer s.Close()

	long := "MSG FROM A IS " + strings.Repeat("x", channel.MaxLineLen)
	g := writeParts(t, srv, long, "xxx\r\n", "BYE FROM Server\r\n")

	var fe *proto.FramingError
	if m, err := s.Recv(); !errors.As(err, &fe) {
		t.Errorf("Recv: got (%v, %v), want framing error", m, err)
	}
	// The remainder of the overlong line is skipped.
	if m, err := s.Recv(); err != nil || m.Kind != proto.KindBye {
		t.Errorf("Recv: got (%v, %v), want BYE", m, err)
	}
	g.Wait()
}

func TestStreamSend(t *testing.T) {
	defer leaktest.Check(t)()
	cli, srv := net.Pipe()
	s := channel.NewStream(cli)

	const want = "AUTH bob AS Bobby USING secret1\r\nBYE FROM Bobby\r\n"
	g := taskgroup.New(nil)
	var got []byte
	g.Go(func() error {
		var err error
		got, err = io.ReadAll(srv)
		return err
	})

	ctx := context.Background()
	if err := s.Send(ctx, proto.Auth("bob", "Bobby", "secret1")); err != nil {
		t.Errorf("Send AUTH: %v", err)
	}
	if err := s.Send(ctx, proto.Bye("Bobby")); err != nil {
		t.Errorf("Send BYE: %v", err)
	}
	if err := s.Send(ctx, proto.Confirm(1)); err == nil {
		t.Error("Send CONFIRM: got nil, want error")
	}
	s.Close()
	if err := g.Wait(); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if diff := cmp.Diff(want, string(got)); diff != "" {
		t.Errorf("Sent data (-want, +got):\n%s", diff)
	}
}

func TestStreamSendTimeout(t *testing.T) {
	defer leaktest.Check(t)()
	cli, srv := net.Pipe() // nobody reads srv
	defer srv.Close()
	s := channel.NewStream(cli)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Send(ctx, proto.Chat("A", "hello"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send: got %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestStreamTCP(t *testing.T) {
	defer leaktest.Check(t)()
	lst, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer lst.Close()

	g := taskgroup.New(nil)
	g.Go(func() error {
		conn, err := lst.Accept()
		if err != nil {
			return err
		}
		defer conn.Close()
		io.WriteString(conn, "REPLY NOK IS no\r\n")

		// The client half-closes, so the server sees a clean end of stream.
		data, err := io.ReadAll(conn)
		if err != nil {
			return err
		}
		if got, want := string(data), "BYE FROM me\r\n"; got != want {
			t.Errorf("Server read %q, want %q", got, want)
		}
		return nil
	})

	ctx := context.Background()
	s, err := channel.DialStream(ctx, lst.Addr().String())
	if err != nil {
		t.Fatalf("DialStream: %v", err)
	}
	if m, err := s.Recv(); err != nil || m.Kind != proto.KindReply || m.OK {
		t.Errorf("Recv: got (%v, %v), want REPLY NOK", m, err)
	}
	if err := s.Send(ctx, proto.Bye("me")); err != nil {
		t.Errorf("Send: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Errorf("Server: %v", err)
	}
}
