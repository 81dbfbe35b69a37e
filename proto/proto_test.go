// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package proto_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/creachadair/ipkchat/proto"
	"github.com/google/go-cmp/cmp"
)

func TestEncodeStream(t *testing.T) {
	tests := []struct {
		input *proto.Message
		want  string
	}{
		{proto.Auth("bob", "Bobby", "secret1"), "AUTH bob AS Bobby USING secret1\r\n"},
		{proto.Join("general", "Bobby"), "JOIN general AS Bobby\r\n"},
		{proto.Chat("Bobby", "hello, world"), "MSG FROM Bobby IS hello, world\r\n"},
		{proto.Error("Client", "bad things"), "ERR FROM Client IS bad things\r\n"},
		{proto.Bye("Bobby"), "BYE FROM Bobby\r\n"},
		{proto.Reply(true, "Auth success.", 0), "REPLY OK IS Auth success.\r\n"},
		{proto.Reply(false, "nope", 0), "REPLY NOK IS nope\r\n"},
	}
	for _, tc := range tests {
		got, err := proto.EncodeStream(tc.input)
		if err != nil {
			t.Errorf("EncodeStream(%v): unexpected error: %v", tc.input, err)
		} else if string(got) != tc.want {
			t.Errorf("EncodeStream(%v): got %q, want %q", tc.input, got, tc.want)
		}
	}

	for _, bad := range []*proto.Message{proto.Confirm(1), proto.Ping(2)} {
		if got, err := proto.EncodeStream(bad); err == nil {
			t.Errorf("EncodeStream(%v): got %q, want error", bad, got)
		}
	}
}

func TestDecodeStream(t *testing.T) {
	tests := []struct {
		input string
		want  *proto.Message
	}{
		{"REPLY OK IS Auth success.\r\n", &proto.Message{Kind: proto.KindReply, OK: true, Content: "Auth success."}},
		{"reply nok is no such user", &proto.Message{Kind: proto.KindReply, Content: "no such user"}},
		{"MSG FROM Alice IS hello there", proto.Chat("Alice", "hello there")},
		{"msg from Alice is IS is is", proto.Chat("Alice", "IS is is")},
		{"MSG FROM Alice IS two\nlines", proto.Chat("Alice", "two\nlines")},
		{"ERR FROM Server IS you broke it", proto.Error("Server", "you broke it")},
		{"BYE FROM Server\r\n", proto.Bye("Server")},
		{"Bye From x!y", proto.Bye("x!y")},
		{"AUTH bob AS Bobby USING s3cr-t_", proto.Auth("bob", "Bobby", "s3cr-t_")},
		{"JOIN general AS Bobby", proto.Join("general", "Bobby")},
	}
	for _, tc := range tests {
		got, err := proto.DecodeStream([]byte(tc.input))
		if err != nil {
			t.Errorf("DecodeStream(%q): unexpected error: %v", tc.input, err)
			continue
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("DecodeStream(%q) (-want, +got):\n%s", tc.input, diff)
		}
	}
}

func TestDecodeStreamErrors(t *testing.T) {
	tests := []string{
		"",
		"HELLO",
		"MSG FROM Alice IS",         // missing content separator
		"MSG FROM Al ice IS hi",     // space in display name
		"MSG FROM Alice",            // missing content
		"BYE FROM",                  // missing display name
		"BYE FROM Server extra",     // trailing words
		"REPLY MAYBE IS sure",       // invalid status
		"ERR FROM " + strings.Repeat("x", 21) + " IS long", // display name too long
		"AUTH bob! AS Bobby USING s", // invalid username
		"CONFIRM 5",
	}
	for _, input := range tests {
		got, err := proto.DecodeStream([]byte(input))
		var fe *proto.FramingError
		if !errors.As(err, &fe) {
			t.Errorf("DecodeStream(%q): got (%v, %v), want framing error", input, got, err)
		} else if fe.Kind != proto.Unparseable {
			t.Errorf("DecodeStream(%q): got kind %v, want %v", input, fe.Kind, proto.Unparseable)
		}
	}
}

func TestEncodeDatagram(t *testing.T) {
	withID := func(m *proto.Message, id uint16) *proto.Message { m.ID = id; return m }
	tests := []struct {
		input *proto.Message
		want  string
	}{
		{proto.Confirm(7), "\x00\x00\x07"},
		{withID(proto.Reply(true, "ok", 5), 3), "\x01\x00\x03\x01\x00\x05ok\x00"},
		{withID(proto.Auth("bob", "Bobby", "secret1"), 1), "\x02\x00\x01bob\x00Bobby\x00secret1\x00"},
		{withID(proto.Join("general", "Bobby"), 258), "\x03\x01\x02general\x00Bobby\x00"},
		{withID(proto.Chat("Bobby", "hi"), 7), "\x04\x00\x07Bobby\x00hi\x00"},
		{proto.Ping(65535), "\xfd\xff\xff"},
		{withID(proto.Error("Client", "oops"), 9), "\xfe\x00\x09Client\x00oops\x00"},
		{withID(proto.Bye("Bobby"), 10), "\xff\x00\x0aBobby\x00"},
	}
	for _, tc := range tests {
		got, err := proto.EncodeDatagram(tc.input)
		if err != nil {
			t.Errorf("EncodeDatagram(%v): unexpected error: %v", tc.input, err)
		} else if string(got) != tc.want {
			t.Errorf("EncodeDatagram(%v): got %q, want %q", tc.input, got, tc.want)
		}

		// Everything the encoder produces must decode to the same message.
		dec, err := proto.DecodeDatagram(got)
		if err != nil {
			t.Errorf("DecodeDatagram(%q): unexpected error: %v", got, err)
		} else if diff := cmp.Diff(tc.input, dec); diff != "" {
			t.Errorf("DecodeDatagram(%q) (-want, +got):\n%s", got, diff)
		}
	}
}

func TestDecodeDatagramErrors(t *testing.T) {
	tests := []struct {
		input string
		want  proto.FramingKind
	}{
		{"", proto.TooShort},
		{"\x04\x00", proto.TooShort},
		{"\x01\x00\x01\x01\x00", proto.TooShort},
		{"\x01\x00\x01\x01\x00\x01", proto.TooShort},
		{"\x02\x00\x01", proto.TooShort},
		{"\x03\x00\x01", proto.TooShort},
		{"\x04\x00\x01", proto.TooShort},
		{"\x04\x00\x01A", proto.TooShort},
		{"\xfe\x00\x01", proto.TooShort},
		{"\xff\x00\x01", proto.TooShort},
		{"\x04\x00\x01Alice\x00hello", proto.MissingTerminator},
		{"\x04\x00\x01Alice", proto.MissingTerminator},
		{"\x02\x00\x01bob\x00Bobby\x00", proto.MissingTerminator},
		{"\x04\x00\x01Alice\x00hi\x00x", proto.TrailingGarbage},
		{"\x00\x00\x01\x00", proto.TrailingGarbage},
		{"\xfd\x00\x01\x01", proto.TrailingGarbage},
		{"\x10\x00\x01", proto.UnknownType},
		{"\x04\x00\x01Al ice\x00hi\x00", proto.InvalidField},
		{"\x03\x00\x01bad channel\x00Bob\x00", proto.InvalidField},
	}
	for _, tc := range tests {
		got, err := proto.DecodeDatagram([]byte(tc.input))
		var fe *proto.FramingError
		if !errors.As(err, &fe) {
			t.Errorf("DecodeDatagram(%q): got (%v, %v), want framing error", tc.input, got, err)
		} else if fe.Kind != tc.want {
			t.Errorf("DecodeDatagram(%q): got kind %v, want %v", tc.input, fe.Kind, tc.want)
		}
	}
}

func TestDatagramHeader(t *testing.T) {
	if _, _, ok := proto.DatagramHeader([]byte("\x04\x00")); ok {
		t.Error("DatagramHeader accepted a runt")
	}
	kind, id, ok := proto.DatagramHeader([]byte("\x04\x12\x34garbage"))
	if !ok || kind != proto.KindChat || id != 0x1234 {
		t.Errorf("DatagramHeader: got (%v, %d, %v), want (MSG, 4660, true)", kind, id, ok)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", 25)
	m := proto.Auth(long, long, strings.Repeat("s", 130))
	got := m.Truncate()
	want := []proto.Truncation{
		{Field: "AUTH Username", Limit: 20, Len: 25},
		{Field: "AUTH DisplayName", Limit: 20, Len: 25},
		{Field: "AUTH Secret", Limit: 128, Len: 130},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Truncate (-want, +got):\n%s", diff)
	}
	if len(m.Username) != 20 || len(m.DisplayName) != 20 || len(m.Secret) != 128 {
		t.Errorf("Truncate left oversized fields: %d, %d, %d", len(m.Username), len(m.DisplayName), len(m.Secret))
	}
	if again := m.Truncate(); len(again) != 0 {
		t.Errorf("Second Truncate: got %v, want none", again)
	}

	// The encoders clamp without modifying their argument.
	c := proto.Chat("Bobby", strings.Repeat("x", proto.MaxContentLen+10))
	enc, err := proto.EncodeDatagram(c)
	if err != nil {
		t.Fatalf("EncodeDatagram: %v", err)
	}
	if got, want := len(enc), proto.HeaderLen+len("Bobby\x00")+proto.MaxContentLen+1; got != want {
		t.Errorf("Encoded length: got %d, want %d", got, want)
	}
	if len(c.Content) != proto.MaxContentLen+10 {
		t.Errorf("EncodeDatagram modified its argument (len %d)", len(c.Content))
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		name  string
		check func(string) bool
		input string
		want  bool
	}{
		{"ID", proto.ValidID, "user_name-1", true},
		{"ID", proto.ValidID, "", false},
		{"ID", proto.ValidID, "user.name", false},
		{"ID", proto.ValidID, strings.Repeat("u", 21), false},
		{"Secret", proto.ValidSecret, strings.Repeat("s", 128), true},
		{"Secret", proto.ValidSecret, strings.Repeat("s", 129), false},
		{"DisplayName", proto.ValidDisplayName, "~Bob!", true},
		{"DisplayName", proto.ValidDisplayName, "Bob by", false},
		{"DisplayName", proto.ValidDisplayName, "", false},
		{"Content", proto.ValidContent, "hello world\nagain", true},
		{"Content", proto.ValidContent, "tab\there", false},
		{"Content", proto.ValidContent, "", false},
	}
	for _, tc := range tests {
		if got := tc.check(tc.input); got != tc.want {
			t.Errorf("Valid%s(%q): got %v, want %v", tc.name, tc.input, got, tc.want)
		}
	}
}

func TestParseTransport(t *testing.T) {
	for _, tc := range []struct {
		input string
		want  proto.Transport
	}{{"tcp", proto.Stream}, {"UDP", proto.Datagram}} {
		got, err := proto.ParseTransport(tc.input)
		if err != nil || got != tc.want {
			t.Errorf("ParseTransport(%q): got (%v, %v), want %v", tc.input, got, err, tc.want)
		}
	}
	if got, err := proto.ParseTransport("sctp"); err == nil {
		t.Errorf("ParseTransport(sctp): got %v, want error", got)
	}
}
