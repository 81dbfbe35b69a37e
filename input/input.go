// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package input parses lines typed by a user into session commands.
//
// A line beginning with "/" is a command:
//
//	/auth {Username} {Secret} {DisplayName}
//	/join {ChannelID}
//	/rename {DisplayName}
//	/help
//
// Any other non-blank line is a chat message. Arguments are checked against
// the character grammar of the protocol fields; length limits are enforced
// by the session, which truncates oversized fields.
package input

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/creachadair/ipkchat"
	"github.com/creachadair/taskgroup"
)

// Parse parses a single line of user input. It returns nil if the line is
// blank. Input that is not a valid command is reported as an
// [ipkchat.Unrecognized] with a diagnostic for the user.
func Parse(line string) ipkchat.Command {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		if !isContent(line) {
			return bad(line, "Chat message contains invalid characters.")
		}
		return ipkchat.SendChat{Text: line}
	}

	args := strings.Fields(line)
	switch name := strings.ToLower(args[0]); name {
	case "/auth":
		const usage = "Use: /auth {Username} {Secret} {DisplayName}"
		if len(args) != 4 {
			return bad(line, "Invalid /auth command. "+usage)
		} else if !isID(args[1]) || !isID(args[2]) || !isDisplayName(args[3]) {
			return bad(line, "Invalid parameter format/characters in /auth command. "+usage)
		}
		return ipkchat.Authenticate{Username: args[1], Secret: args[2], DisplayName: args[3]}

	case "/join":
		const usage = "Use: /join {ChannelID}"
		if len(args) != 2 {
			return bad(line, "Invalid /join command. "+usage)
		} else if !isID(args[1]) {
			return bad(line, "Invalid ChannelID format/characters in /join command. "+usage)
		}
		return ipkchat.JoinChannel{ChannelID: args[1]}

	case "/rename":
		const usage = "Use: /rename {DisplayName}"
		if len(args) != 2 {
			return bad(line, "Invalid /rename command. "+usage)
		} else if !isDisplayName(args[1]) {
			return bad(line, "Invalid DisplayName format/characters in /rename command. "+usage)
		}
		return ipkchat.Rename{DisplayName: args[1]}

	case "/help":
		if len(args) != 1 {
			return bad(line, "Invalid /help command. Use: /help")
		}
		return ipkchat.ShowHelp{}

	default:
		return bad(line, fmt.Sprintf("Unknown command '%s'. Use /help for available commands.", name))
	}
}

func bad(line, reason string) ipkchat.Command {
	return ipkchat.Unrecognized{Input: line, Reason: reason}
}

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

// isID reports whether s is non-empty and consists of [A-Za-z0-9_-].
// Secrets share this grammar.
func isID(s string) bool { return s != "" && strings.Trim(s, idAlphabet) == "" }

// isDisplayName reports whether s is non-empty printable ASCII without spaces.
func isDisplayName(s string) bool { return s != "" && inRange(s, 0x21, 0x7e) }

// isContent reports whether s is non-empty printable ASCII.
func isContent(s string) bool { return s != "" && inRange(s, 0x20, 0x7e) }

func inRange(s string, lo, hi byte) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < lo || s[i] > hi {
			return false
		}
	}
	return true
}

// A Reader is an [ipkchat.CommandSource] that parses lines from an
// [io.Reader]. Blank lines are skipped. Lines of any length are accepted.
//
// The underlying reader is consumed by a separate goroutine, so that Next
// can respond to the end of its context while a read is blocked. Call
// Close when the Reader is no longer needed.
type Reader struct {
	r     *bufio.Reader
	start sync.Once
	lines chan string
	stop  chan struct{}
	halt  sync.Once

	err error // set before lines is closed
}

// NewReader constructs a Reader that consumes r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:     bufio.NewReader(r),
		lines: make(chan string),
		stop:  make(chan struct{}),
	}
}

// Next implements the [ipkchat.CommandSource] interface. It reports io.EOF
// when the input is exhausted.
func (r *Reader) Next(ctx context.Context) (ipkchat.Command, error) {
	r.start.Do(func() { taskgroup.Go(r.read) })
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case line, ok := <-r.lines:
			if !ok {
				return nil, r.err
			}
			if cmd := Parse(line); cmd != nil {
				return cmd, nil
			}
		}
	}
}

// Close stops the Reader. A read already in progress on the underlying
// reader is not interrupted, but its result is discarded.
func (r *Reader) Close() error {
	r.halt.Do(func() { close(r.stop) })
	return nil
}

func (r *Reader) read() error {
	defer close(r.lines)
	for {
		line, err := r.r.ReadString('\n')
		if line != "" {
			select {
			case r.lines <- line:
			case <-r.stop:
				r.err = errors.New("reader is closed")
				return nil
			}
		}
		if err != nil {
			r.err = err
			return nil
		}
	}
}
