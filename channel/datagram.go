// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package channel

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"sync"

	"github.com/creachadair/ipkchat/proto"
	"github.com/creachadair/ipkchat/reliable"
)

// maxDatagram is the size of the receive buffer. It exceeds the largest
// valid message.
const maxDatagram = 65535

// DatagramOptions are settings for a [Datagram] channel. A nil
// *DatagramOptions is ready for use and provides default values.
type DatagramOptions struct {
	// Acknowledgement timing. Zero fields take the defaults of the
	// reliable package.
	Reliability reliable.Config

	// The maximum number of inbound message IDs remembered for duplicate
	// suppression. If zero, reliable.DefaultSeenLimit is used.
	SeenLimit int

	// If set, diagnostics are written to this logger.
	Logger *log.Logger
}

func (o *DatagramOptions) logger() *log.Logger {
	if o == nil || o.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return o.Logger
}

// ListenDatagram resolves the server address addr ("host:port") as UDP over
// IPv4, binds a local socket on an ephemeral port, and returns a channel
// that sends to the server from it.
func ListenDatagram(ctx context.Context, addr string, opts *DatagramOptions) (*Datagram, error) {
	raddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("bind: %w", err)
	}
	return NewDatagram(conn, raddr, opts), nil
}

// NewDatagram constructs a channel that exchanges messages of the datagram
// encoding with the server at target, using conn.
func NewDatagram(conn net.PacketConn, target net.Addr, opts *DatagramOptions) *Datagram {
	d := &Datagram{
		conn:   conn,
		log:    opts.logger(),
		target: target,
		buf:    make([]byte, maxDatagram),
	}
	var cfg reliable.Config
	seenLimit := 0
	if opts != nil {
		cfg = opts.Reliability
		seenLimit = opts.SeenLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = d.log
	}
	d.tracker = reliable.NewTracker(cfg, d.writeTarget)
	d.seen = reliable.NewSeenSet(seenLimit)
	return d
}

// A Datagram is a channel that carries the datagram encoding over a packet
// connection. Every message it sends is assigned a fresh ID and delivered
// reliably; every message it receives, other than a Confirm, is confirmed
// to its sender.
//
// Delivery failures are reported by Send as a *reliable.DeliveryError. Recv
// handles acknowledgements itself and returns only the messages a session
// acts on: duplicate chat messages, pings, and replies that match no
// pending request are dropped.
//
// Once in its lifetime, while migration is enabled, the channel adopts the
// source address of the first datagram that arrives from somewhere other
// than the server address, and thereafter sends there.
type Datagram struct {
	conn    net.PacketConn
	log     *log.Logger
	tracker *reliable.Tracker
	seen    *reliable.SeenSet
	buf     []byte // receive buffer, owned by Recv

	μ       sync.Mutex
	target  net.Addr
	migrate bool // migration is enabled
	moved   bool // migration has occurred
	nextID  uint16
}

// AllowMigration enables or disables endpoint migration. It implements the
// ipkchat.EndpointMigrator interface.
func (d *Datagram) AllowMigration(ok bool) {
	d.μ.Lock()
	defer d.μ.Unlock()
	d.migrate = ok
}

// Target reports the address the channel currently sends to.
func (d *Datagram) Target() net.Addr {
	d.μ.Lock()
	defer d.μ.Unlock()
	return d.target
}

// LocalAddr reports the local address of the channel.
func (d *Datagram) LocalAddr() net.Addr { return d.conn.LocalAddr() }

// Send implements a method of the [ipkchat.Channel] interface. It sets the
// ID of m to the next unused message ID. Auth and Join requests wait for the
// server's reply; other messages wait only for confirmation. A Confirm is
// sent once without waiting.
func (d *Datagram) Send(ctx context.Context, m *proto.Message) error {
	if m.Kind == proto.KindConfirm {
		data, err := proto.EncodeDatagram(m)
		if err != nil {
			return err
		}
		return d.writeTarget(data)
	}

	d.μ.Lock()
	m.ID = d.nextID
	d.nextID++
	d.μ.Unlock()

	data, err := proto.EncodeDatagram(m)
	if err != nil {
		return err
	}

	if m.Kind.IsRequest() {
		res, err := d.tracker.SendRequestReply(ctx, m.ID, data)
		if err != nil {
			return err
		}
		switch res.Outcome {
		case reliable.AppAck:
			return nil
		case reliable.NoTransportAck:
			return &reliable.DeliveryError{ID: m.ID, Kind: m.Kind, Err: reliable.ErrUnconfirmed}
		case reliable.NoAppAck:
			return &reliable.DeliveryError{ID: m.ID, Kind: m.Kind, Err: reliable.ErrNoReply}
		}
		return canceled(ctx)
	}

	out, err := d.tracker.SendReliable(ctx, m.ID, data)
	if err != nil {
		return err
	}
	switch out {
	case reliable.Confirmed:
		return nil
	case reliable.Unconfirmed:
		return &reliable.DeliveryError{ID: m.ID, Kind: m.Kind, Err: reliable.ErrUnconfirmed}
	}
	return canceled(ctx)
}

// canceled reports why a send was abandoned: either ctx ended or the
// channel was closed.
func canceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return net.ErrClosed
}

// Recv implements a method of the [ipkchat.Channel] interface. A datagram
// that does not decode is confirmed, then reported as a *proto.FramingError.
// A malformed Confirm is reported without acknowledging anything.
// Datagrams too short to carry a header are discarded.
func (d *Datagram) Recv() (*proto.Message, error) {
	for {
		n, from, err := d.conn.ReadFrom(d.buf)
		if err != nil {
			return nil, err
		}
		data := d.buf[:n]
		kind, id, ok := proto.DatagramHeader(data)
		if !ok {
			d.log.Printf("discarding %d-byte datagram from %v", n, from)
			continue
		}
		d.checkMigration(from)

		if kind == proto.KindConfirm {
			if n != proto.HeaderLen {
				_, err := proto.DecodeDatagram(data)
				return nil, err
			}
			d.tracker.OnTransportAck(id)
			continue
		}
		d.confirm(id, from)
		if kind == proto.KindPing {
			continue
		}

		m, err := proto.DecodeDatagram(data)
		if err != nil {
			return nil, err
		}
		switch m.Kind {
		case proto.KindChat:
			if !d.seen.Add(m.ID) {
				d.log.Printf("discarding duplicate message %d", m.ID)
				continue
			}
		case proto.KindReply:
			if !d.tracker.OnApplicationAck(m) {
				continue
			}
		}
		return m, nil
	}
}

// Close implements a method of the [ipkchat.Channel] interface. Pending
// sends are abandoned.
func (d *Datagram) Close() error {
	d.tracker.Cancel()
	return d.conn.Close()
}

// confirm acknowledges message id to the address it came from. A failure is
// logged; the sender will retransmit.
func (d *Datagram) confirm(id uint16, to net.Addr) {
	data, err := proto.EncodeDatagram(proto.Confirm(id))
	if err == nil {
		_, err = d.conn.WriteTo(data, to)
	}
	if err != nil {
		d.log.Printf("confirming message %d to %v: %v", id, to, err)
	}
}

// checkMigration adopts from as the target if migration is enabled and has
// not yet occurred.
func (d *Datagram) checkMigration(from net.Addr) {
	d.μ.Lock()
	defer d.μ.Unlock()
	if !d.migrate || d.moved || sameAddr(from, d.target) {
		return
	}
	d.log.Printf("server endpoint moved from %v to %v", d.target, from)
	d.target = from
	d.moved = true
}

func (d *Datagram) writeTarget(data []byte) error {
	_, err := d.conn.WriteTo(data, d.Target())
	return err
}

func sameAddr(a, b net.Addr) bool {
	ua, ok1 := a.(*net.UDPAddr)
	ub, ok2 := b.(*net.UDPAddr)
	if ok1 && ok2 {
		pa, pb := ua.AddrPort(), ub.AddrPort()
		return pa.Addr().Unmap() == pb.Addr().Unmap() && pa.Port() == pb.Port()
	}
	return a.String() == b.String()
}
