// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package proto

import (
	"fmt"

	"github.com/creachadair/mds/mstr"
)

// Field length limits, in bytes.
const (
	MaxIDLen          = 20    // usernames and channel IDs
	MaxSecretLen      = 128   // authentication secrets
	MaxDisplayNameLen = 20    // display names
	MaxContentLen     = 60000 // chat and error content
)

// DefaultChannel is the channel a client is placed in after authenticating.
const DefaultChannel = "default"

// ValidID reports whether s is a valid username or channel ID.
func ValidID(s string) bool { return len(s) <= MaxIDLen && validToken(s) }

// ValidSecret reports whether s is a valid secret.
func ValidSecret(s string) bool { return len(s) <= MaxSecretLen && validToken(s) }

// ValidDisplayName reports whether s is a valid display name: 1 to 20
// printable ASCII characters, not including space.
func ValidDisplayName(s string) bool {
	if s == "" || len(s) > MaxDisplayNameLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x21 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

// ValidContent reports whether s is valid message content: 1 to 60000
// printable ASCII characters, including space and line feed.
func ValidContent(s string) bool {
	if s == "" || len(s) > MaxContentLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		if c := s[i]; c != '\n' && (c < 0x20 || c > 0x7e) {
			return false
		}
	}
	return true
}

func validToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// A Truncation records that a field of an outgoing message exceeded its
// length limit and was shortened.
type Truncation struct {
	Field string // e.g., "AUTH Username"
	Limit int    // the limit the field was truncated to
	Len   int    // the original length of the field
}

func (t Truncation) String() string {
	return fmt.Sprintf("%s was too long and has been truncated to %d characters", t.Field, t.Limit)
}

// Truncate shortens any fields of m that exceed their length limits, and
// reports which fields were modified. Oversized fields are shortened, never
// rejected.
func (m *Message) Truncate() []Truncation {
	var out []Truncation
	clip := func(name string, s *string, n int) {
		if len(*s) > n {
			out = append(out, Truncation{Field: m.Kind.String() + " " + name, Limit: n, Len: len(*s)})
			*s = mstr.Trunc(*s, n)
		}
	}
	switch m.Kind {
	case KindAuth:
		clip("Username", &m.Username, MaxIDLen)
		clip("DisplayName", &m.DisplayName, MaxDisplayNameLen)
		clip("Secret", &m.Secret, MaxSecretLen)
	case KindJoin:
		clip("ChannelID", &m.ChannelID, MaxIDLen)
		clip("DisplayName", &m.DisplayName, MaxDisplayNameLen)
	case KindChat, KindErr:
		clip("DisplayName", &m.DisplayName, MaxDisplayNameLen)
		clip("MessageContent", &m.Content, MaxContentLen)
	case KindBye:
		clip("DisplayName", &m.DisplayName, MaxDisplayNameLen)
	case KindReply:
		clip("MessageContent", &m.Content, MaxContentLen)
	}
	return out
}

// clamped returns a copy of m with all its fields within their limits.
func (m *Message) clamped() *Message {
	cp := *m
	cp.Truncate()
	return &cp
}
