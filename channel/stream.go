// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package channel

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/creachadair/ipkchat/proto"
)

// MaxLineLen is the longest stream line a [Stream] accepts, in bytes. It
// allows for the longest valid message, with room to spare for the verbs.
const MaxLineLen = proto.MaxContentLen + 128

var crlf = []byte(proto.CRLF)

// DialStream connects to the server at addr ("host:port") over TCP/IPv4 and
// returns a channel for the connection.
func DialStream(ctx context.Context, addr string) (*Stream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewStream(conn), nil
}

// NewStream constructs a channel that exchanges CRLF-terminated lines of the
// stream encoding on conn.
func NewStream(conn net.Conn) *Stream { return &Stream{conn: conn} }

// A Stream is a channel that carries the stream encoding over a connection.
// Each call to Recv returns the next complete line, however the bytes of the
// stream were divided among reads. Senders are serialized.
type Stream struct {
	conn net.Conn

	rμ   sync.Mutex
	buf  []byte // received bytes not yet returned
	tmp  [4096]byte
	skip bool  // discarding the remainder of an overlong line
	rerr error // the error that ended reading, reported after buf drains

	wμ sync.Mutex

	once sync.Once
	cerr error
}

// Recv implements a method of the [ipkchat.Channel] interface. A line that
// does not decode is reported as a *proto.FramingError, after which Recv may
// be called again for the next line. When the server closes the connection,
// Recv reports io.EOF.
func (s *Stream) Recv() (*proto.Message, error) {
	s.rμ.Lock()
	defer s.rμ.Unlock()
	for {
		if i := bytes.Index(s.buf, crlf); i >= 0 {
			line := s.buf[:i]
			s.buf = s.buf[i+len(crlf):]
			if s.skip {
				s.skip = false
				continue
			}
			return proto.DecodeStream(line)
		}

		// Keep the last byte, which may be the first half of a CRLF.
		if len(s.buf) > MaxLineLen && !s.skip {
			s.skip = true
			s.buf = append(s.buf[:0], s.buf[len(s.buf)-1])
			return nil, &proto.FramingError{
				Kind:   proto.Unparseable,
				Detail: fmt.Sprintf("line exceeds %d bytes", MaxLineLen),
			}
		} else if s.skip && len(s.buf) > 1 {
			s.buf = append(s.buf[:0], s.buf[len(s.buf)-1])
		}

		if s.rerr != nil {
			return nil, s.rerr
		}
		n, err := s.conn.Read(s.tmp[:])
		s.buf = append(s.buf, s.tmp[:n]...)
		if err != nil {
			s.rerr = err // deliver any complete lines first
		}
	}
}

// Send implements a method of the [ipkchat.Channel] interface. If ctx ends
// before the message is written, Send abandons the write and reports the
// error from ctx.
func (s *Stream) Send(ctx context.Context, m *proto.Message) error {
	data, err := proto.EncodeStream(m)
	if err != nil {
		return err
	}

	s.wμ.Lock()
	defer s.wμ.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetWriteDeadline(time.Unix(1, 0)) // unblock the write
	})
	defer func() {
		if !stop() {
			s.conn.SetWriteDeadline(time.Time{})
		}
	}()

	if _, err := s.conn.Write(data); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		return err
	}
	return nil
}

// Close implements a method of the [ipkchat.Channel] interface. It shuts
// down the sending half of the connection before closing it, so the server
// sees an orderly end of stream.
func (s *Stream) Close() error {
	s.once.Do(func() {
		if hc, ok := s.conn.(interface{ CloseWrite() error }); ok {
			hc.CloseWrite() // best effort
		}
		s.cerr = s.conn.Close()
	})
	return s.cerr
}

// RemoteAddr reports the address of the server.
func (s *Stream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }
