// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package proto

import (
	"fmt"
	"regexp"
	"strings"
)

// CRLF is the line terminator of the stream encoding.
const CRLF = "\r\n"

// Grammars of the stream encoding. Verbs and keywords match without regard
// to case. The terminating CRLF is removed before matching.
var (
	authLine  = regexp.MustCompile(`(?i)^AUTH ([A-Za-z0-9_-]{1,20}) AS ([\x21-\x7E]{1,20}) USING ([A-Za-z0-9_-]{1,128})$`)
	joinLine  = regexp.MustCompile(`(?i)^JOIN ([A-Za-z0-9_-]{1,20}) AS ([\x21-\x7E]{1,20})$`)
	msgLine   = regexp.MustCompile(`(?is)^MSG FROM ([\x21-\x7E]{1,20}) IS (.*)$`)
	errLine   = regexp.MustCompile(`(?is)^ERR FROM ([\x21-\x7E]{1,20}) IS (.*)$`)
	byeLine   = regexp.MustCompile(`(?i)^BYE FROM ([\x21-\x7E]{1,20})$`)
	replyLine = regexp.MustCompile(`(?is)^REPLY (OK|NOK) IS (.*)$`)
)

// EncodeStream encodes m as a CRLF-terminated line of the stream encoding.
// Fields that exceed their limits are truncated. Confirm and Ping messages
// do not exist on the stream transport, and report an error.
func EncodeStream(m *Message) ([]byte, error) {
	c := m.clamped()
	var line string
	switch c.Kind {
	case KindAuth:
		line = fmt.Sprintf("AUTH %s AS %s USING %s", c.Username, c.DisplayName, c.Secret)
	case KindJoin:
		line = fmt.Sprintf("JOIN %s AS %s", c.ChannelID, c.DisplayName)
	case KindChat:
		line = fmt.Sprintf("MSG FROM %s IS %s", c.DisplayName, c.Content)
	case KindErr:
		line = fmt.Sprintf("ERR FROM %s IS %s", c.DisplayName, c.Content)
	case KindBye:
		line = fmt.Sprintf("BYE FROM %s", c.DisplayName)
	case KindReply:
		line = fmt.Sprintf("REPLY %s IS %s", okWord(c.OK), c.Content)
	default:
		return nil, fmt.Errorf("cannot encode %v on the %v transport", c.Kind, Stream)
	}
	return []byte(line + CRLF), nil
}

func okWord(ok bool) string {
	if ok {
		return "OK"
	}
	return "NOK"
}

// DecodeStream decodes a single line of the stream encoding. A trailing CRLF,
// if present, is ignored. A line that does not match any message grammar
// reports a *FramingError with kind Unparseable.
func DecodeStream(line []byte) (*Message, error) {
	s := strings.TrimSuffix(string(line), CRLF)
	verb, _, _ := strings.Cut(s, " ")
	switch strings.ToUpper(verb) {
	case "AUTH":
		if m := authLine.FindStringSubmatch(s); m != nil {
			return Auth(m[1], m[2], m[3]), nil
		}
	case "JOIN":
		if m := joinLine.FindStringSubmatch(s); m != nil {
			return Join(m[1], m[2]), nil
		}
	case "MSG":
		if m := msgLine.FindStringSubmatch(s); m != nil {
			return Chat(m[1], m[2]), nil
		}
	case "ERR":
		if m := errLine.FindStringSubmatch(s); m != nil {
			return Error(m[1], m[2]), nil
		}
	case "BYE":
		if m := byeLine.FindStringSubmatch(s); m != nil {
			return Bye(m[1]), nil
		}
	case "REPLY":
		if m := replyLine.FindStringSubmatch(s); m != nil {
			return &Message{Kind: KindReply, OK: strings.EqualFold(m[1], "OK"), Content: m[2]}, nil
		}
	}
	return nil, framingErr(Unparseable, 0, fmt.Sprintf("%.40q", s), nil)
}
