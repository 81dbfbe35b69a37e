// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package input_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/creachadair/ipkchat"
	"github.com/creachadair/ipkchat/input"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  ipkchat.Command
	}{
		{"", nil},
		{"   \r\n", nil},

		// Chat messages.
		{"hello, world", ipkchat.SendChat{Text: "hello, world"}},
		{"  padded  \n", ipkchat.SendChat{Text: "padded"}},

		// Commands.
		{"/auth bob s3cret Bobby", ipkchat.Authenticate{Username: "bob", Secret: "s3cret", DisplayName: "Bobby"}},
		{"/AUTH  a_b-C  x  D!sp", ipkchat.Authenticate{Username: "a_b-C", Secret: "x", DisplayName: "D!sp"}},
		{"/join general", ipkchat.JoinChannel{ChannelID: "general"}},
		{"/rename Robert", ipkchat.Rename{DisplayName: "Robert"}},
		{"/help", ipkchat.ShowHelp{}},

		// Oversized fields are left to the session.
		{"/join " + strings.Repeat("c", 30), ipkchat.JoinChannel{ChannelID: strings.Repeat("c", 30)}},
	}
	for _, tc := range tests {
		got := input.Parse(tc.input)
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("Parse %q (-want, +got):\n%s", tc.input, diff)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		input, reason string
	}{
		{"no\ttabs", "Chat message contains invalid characters."},
		{"/auth bob", "Invalid /auth command."},
		{"/auth bob s3cret Bobby extra", "Invalid /auth command."},
		{"/auth b.o.b s3cret Bobby", "Invalid parameter format/characters in /auth command."},
		{"/auth bob s3cr+t Bobby", "Invalid parameter format/characters in /auth command."},
		{"/join", "Invalid /join command."},
		{"/join gen!", "Invalid ChannelID format/characters in /join command."},
		{"/rename", "Invalid /rename command."},
		{"/rename Bob\x01", "Invalid DisplayName format/characters in /rename command."},
		{"/help me", "Invalid /help command."},
		{"/quit", "Unknown command '/quit'."},
	}
	for _, tc := range tests {
		got := input.Parse(tc.input)
		u, ok := got.(ipkchat.Unrecognized)
		if !ok {
			t.Errorf("Parse %q: got %#v, want Unrecognized", tc.input, got)
			continue
		}
		if !strings.HasPrefix(u.Reason, tc.reason) {
			t.Errorf("Parse %q: reason %q, want prefix %q", tc.input, u.Reason, tc.reason)
		}
		if u.Input != strings.TrimSpace(tc.input) {
			t.Errorf("Parse %q: input %q", tc.input, u.Input)
		}
	}
}

func TestReader(t *testing.T) {
	defer leaktest.Check(t)()
	r := input.NewReader(strings.NewReader("/auth bob s3cret Bobby\r\n\n/join lobby\nhi there\n/bogus\nno newline"))
	defer r.Close()

	want := []ipkchat.Command{
		ipkchat.Authenticate{Username: "bob", Secret: "s3cret", DisplayName: "Bobby"},
		ipkchat.JoinChannel{ChannelID: "lobby"},
		ipkchat.SendChat{Text: "hi there"},
		ipkchat.Unrecognized{Input: "/bogus", Reason: "Unknown command '/bogus'. Use /help for available commands."},
		ipkchat.SendChat{Text: "no newline"},
	}
	var got []ipkchat.Command
	ctx := context.Background()
	for {
		cmd, err := r.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			t.Fatalf("Next: unexpected error: %v", err)
		}
		got = append(got, cmd)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Commands (-want, +got):\n%s", diff)
	}

	// The end of input is sticky.
	if cmd, err := r.Next(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Next: got (%v, %v), want EOF", cmd, err)
	}
}

func TestReaderContext(t *testing.T) {
	defer leaktest.Check(t)()
	pr, pw := io.Pipe()
	r := input.NewReader(pr)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if cmd, err := r.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next: got (%v, %v), want %v", cmd, err, context.DeadlineExceeded)
	}

	// Input that arrives later is still delivered.
	go func() {
		io.WriteString(pw, "/help\n")
		pw.Close()
	}()
	cmd, err := r.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: unexpected error: %v", err)
	}
	if diff := cmp.Diff(ipkchat.Command(ipkchat.ShowHelp{}), cmd); diff != "" {
		t.Errorf("Next (-want, +got):\n%s", diff)
	}
	if cmd, err := r.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Next: got (%v, %v), want EOF", cmd, err)
	}
}
