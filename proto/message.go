// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package proto defines the messages of the IPK-CHAT protocol and their
// encodings on the two supported transports.
//
// The stream transport (TCP) carries one CRLF-terminated ASCII line per
// message. The datagram transport (UDP) carries one binary message per
// datagram, consisting of a type byte, a big-endian 16-bit message ID, and a
// sequence of fields whose layout depends on the type.
package proto

import (
	"fmt"
	"strings"
)

// Transport identifies one of the supported wire transports.
type Transport byte

const (
	Stream   Transport = 1 // CRLF-delimited text over TCP
	Datagram Transport = 2 // binary messages over UDP
)

func (t Transport) String() string {
	switch t {
	case Stream:
		return "tcp"
	case Datagram:
		return "udp"
	}
	return fmt.Sprintf("Transport(%d)", byte(t))
}

// ParseTransport parses the name of a transport ("tcp" or "udp"),
// ignoring case.
func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(s) {
	case "tcp":
		return Stream, nil
	case "udp":
		return Datagram, nil
	}
	return 0, fmt.Errorf("unknown transport %q", s)
}

// Kind is the type tag of a message. The values coincide with the type
// byte of the datagram encoding.
type Kind byte

const (
	KindConfirm Kind = 0x00 // datagram only
	KindReply   Kind = 0x01
	KindAuth    Kind = 0x02
	KindJoin    Kind = 0x03
	KindChat    Kind = 0x04
	KindPing    Kind = 0xFD // datagram only
	KindErr     Kind = 0xFE
	KindBye     Kind = 0xFF
)

var kindStr = map[Kind]string{
	KindConfirm: "CONFIRM",
	KindReply:   "REPLY",
	KindAuth:    "AUTH",
	KindJoin:    "JOIN",
	KindChat:    "MSG",
	KindPing:    "PING",
	KindErr:     "ERR",
	KindBye:     "BYE",
}

func (k Kind) String() string {
	if s, ok := kindStr[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(0x%02x)", byte(k))
}

// IsRequest reports whether a message of kind k expects a Reply.
func (k Kind) IsRequest() bool { return k == KindAuth || k == KindJoin }

// A Message is a single protocol message. Which fields are meaningful
// depends on the Kind:
//
//	Auth    Username, DisplayName, Secret
//	Join    ChannelID, DisplayName
//	Chat    DisplayName, Content
//	Err     DisplayName, Content
//	Bye     DisplayName
//	Reply   OK, Content, RefID (datagram only)
//	Confirm RefID
//	Ping    (no fields)
//
// ID is the message identifier on the datagram transport, and is ignored by
// the stream encoding.
type Message struct {
	Kind Kind
	ID   uint16

	Username    string
	DisplayName string
	Secret      string
	ChannelID   string
	Content     string

	OK     bool   // Reply: whether the request succeeded
	RefID  uint16 // Reply, Confirm: the ID of the message referred to
	HasRef bool   // whether RefID is set
}

// Auth constructs an authentication request.
func Auth(username, displayName, secret string) *Message {
	return &Message{Kind: KindAuth, Username: username, DisplayName: displayName, Secret: secret}
}

// Join constructs a request to join the specified channel.
func Join(channelID, displayName string) *Message {
	return &Message{Kind: KindJoin, ChannelID: channelID, DisplayName: displayName}
}

// Chat constructs a chat message.
func Chat(displayName, content string) *Message {
	return &Message{Kind: KindChat, DisplayName: displayName, Content: content}
}

// Error constructs an error message.
func Error(displayName, content string) *Message {
	return &Message{Kind: KindErr, DisplayName: displayName, Content: content}
}

// Bye constructs a farewell message.
func Bye(displayName string) *Message {
	return &Message{Kind: KindBye, DisplayName: displayName}
}

// Reply constructs a reply to the request with the given ID.
func Reply(ok bool, content string, refID uint16) *Message {
	return &Message{Kind: KindReply, OK: ok, Content: content, RefID: refID, HasRef: true}
}

// Confirm constructs a datagram acknowledgement of the message with ID refID.
func Confirm(refID uint16) *Message {
	return &Message{Kind: KindConfirm, RefID: refID, HasRef: true}
}

// Ping constructs a datagram keepalive with the given ID.
func Ping(id uint16) *Message { return &Message{Kind: KindPing, ID: id} }

// String renders m in a human-readable format for logging. The secret of an
// Auth message is elided.
func (m *Message) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%v#%d", m.Kind, m.ID)
	switch m.Kind {
	case KindAuth:
		fmt.Fprintf(&sb, " user=%q display=%q", m.Username, m.DisplayName)
	case KindJoin:
		fmt.Fprintf(&sb, " channel=%q display=%q", m.ChannelID, m.DisplayName)
	case KindChat, KindErr:
		fmt.Fprintf(&sb, " display=%q len=%d", m.DisplayName, len(m.Content))
	case KindBye:
		fmt.Fprintf(&sb, " display=%q", m.DisplayName)
	case KindReply:
		fmt.Fprintf(&sb, " ok=%v content=%q", m.OK, m.Content)
		if m.HasRef {
			fmt.Fprintf(&sb, " ref=%d", m.RefID)
		}
	case KindConfirm:
		fmt.Fprintf(&sb, " ref=%d", m.RefID)
	}
	return sb.String()
}
