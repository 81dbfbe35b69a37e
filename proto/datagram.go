// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package proto

import (
	"errors"
	"fmt"

	"github.com/creachadair/ipkchat/packet"
)

// HeaderLen is the length in bytes of the datagram header (type and ID).
const HeaderLen = 3

// EncodeDatagram encodes m as a binary datagram. Fields that exceed their
// limits are truncated. The ID of m is used as the message ID; for Confirm
// the header carries RefID instead.
func EncodeDatagram(m *Message) ([]byte, error) {
	c := m.clamped()
	var b packet.Builder
	b.Put(byte(c.Kind))
	switch c.Kind {
	case KindConfirm:
		b.Uint16(c.RefID)
	case KindReply:
		b.Uint16(c.ID)
		b.Bool(c.OK)
		b.Uint16(c.RefID)
		b.CString(c.Content)
	case KindAuth:
		b.Uint16(c.ID)
		b.CString(c.Username)
		b.CString(c.DisplayName)
		b.CString(c.Secret)
	case KindJoin:
		b.Uint16(c.ID)
		b.CString(c.ChannelID)
		b.CString(c.DisplayName)
	case KindChat, KindErr:
		b.Uint16(c.ID)
		b.CString(c.DisplayName)
		b.CString(c.Content)
	case KindPing:
		b.Uint16(c.ID)
	case KindBye:
		b.Uint16(c.ID)
		b.CString(c.DisplayName)
	default:
		return nil, fmt.Errorf("cannot encode %v on the %v transport", c.Kind, Datagram)
	}
	return b.Bytes(), nil
}

// minDatagramLen gives the length of the smallest well-formed datagram of
// each kind: the header, any fixed fields, and one terminator per string.
var minDatagramLen = map[Kind]int{
	KindConfirm: HeaderLen,
	KindReply:   HeaderLen + 1 + 2 + 1,
	KindAuth:    HeaderLen + 3,
	KindJoin:    HeaderLen + 2,
	KindChat:    HeaderLen + 2,
	KindPing:    HeaderLen,
	KindErr:     HeaderLen + 2,
	KindBye:     HeaderLen + 1,
}

// DatagramHeader reports the type and ID from the header of a datagram
// without validating the rest of its contents. It reports false if data is
// too short to contain a header.
func DatagramHeader(data []byte) (Kind, uint16, bool) {
	if len(data) < HeaderLen {
		return 0, 0, false
	}
	return Kind(data[0]), uint16(data[1])<<8 | uint16(data[2]), true
}

// DecodeDatagram decodes a single binary datagram. Malformed input reports a
// *FramingError whose kind distinguishes short input, missing terminators,
// trailing data, unknown types, and invalid fields.
func DecodeDatagram(data []byte) (*Message, error) {
	kind, id, ok := DatagramHeader(data)
	if !ok {
		if len(data) != 0 {
			kind = Kind(data[0])
		}
		return nil, framingErr(TooShort, kind, fmt.Sprintf("%d bytes", len(data)), nil)
	}
	if n, ok := minDatagramLen[kind]; !ok {
		return nil, framingErr(UnknownType, kind, fmt.Sprintf("type 0x%02x", byte(kind)), nil)
	} else if len(data) < n {
		return nil, framingErr(TooShort, kind, fmt.Sprintf("%d < %d bytes", len(data), n), nil)
	}
	s := packet.NewScanner(data[HeaderLen:])
	m := &Message{Kind: kind, ID: id}

	var err error
	switch kind {
	case KindConfirm:
		m.ID, m.RefID, m.HasRef = 0, id, true
	case KindReply:
		m.OK, _ = s.Bool()
		m.RefID, _ = s.Uint16()
		m.HasRef = true
		m.Content, err = s.CString()
	case KindAuth:
		err = scanFields(s, &m.Username, &m.DisplayName, &m.Secret)
	case KindJoin:
		err = scanFields(s, &m.ChannelID, &m.DisplayName)
	case KindChat, KindErr:
		err = scanFields(s, &m.DisplayName, &m.Content)
	case KindBye:
		err = scanFields(s, &m.DisplayName)
	case KindPing:
		// no fields
	default:
		return nil, framingErr(UnknownType, kind, fmt.Sprintf("type 0x%02x", byte(kind)), nil)
	}
	if errors.Is(err, packet.ErrNoTerminator) {
		return nil, framingErr(MissingTerminator, kind, "", err)
	} else if err != nil {
		return nil, framingErr(TooShort, kind, "", err)
	}
	if s.Len() != 0 {
		return nil, framingErr(TrailingGarbage, kind, fmt.Sprintf("%d extra bytes", s.Len()), nil)
	}
	if err := checkFields(m); err != nil {
		return nil, err
	}
	return m, nil
}

func scanFields(s *packet.Scanner, fields ...*string) error {
	for _, f := range fields {
		v, err := s.CString()
		if err != nil {
			return err
		}
		*f = v
	}
	return nil
}

// checkFields verifies the character classes of the fields of a decoded
// datagram message.
func checkFields(m *Message) error {
	bad := func(name string) error {
		return framingErr(InvalidField, m.Kind, name, nil)
	}
	switch m.Kind {
	case KindAuth:
		if !ValidID(m.Username) {
			return bad("username")
		} else if !ValidSecret(m.Secret) {
			return bad("secret")
		}
	case KindJoin:
		if !ValidID(m.ChannelID) {
			return bad("channel ID")
		}
	}
	switch m.Kind {
	case KindAuth, KindJoin, KindChat, KindErr, KindBye:
		if !ValidDisplayName(m.DisplayName) {
			return bad("display name")
		}
	}
	return nil
}
