// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package ipkchat

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// A Console receives the lines a session shows to the user. Each call to
// Printf produces one line; the implementation supplies the line break.
type Console interface {
	Printf(format string, args ...any)
}

// WriterConsole returns a Console that writes lines to w. Concurrent calls
// are serialized so that lines do not interleave.
func WriterConsole(w io.Writer) Console { return &writerConsole{w: w} }

type writerConsole struct {
	μ sync.Mutex
	w io.Writer
}

func (c *writerConsole) Printf(format string, args ...any) {
	c.μ.Lock()
	defer c.μ.Unlock()
	line := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	io.WriteString(c.w, line)
}

type discardConsole struct{}

func (discardConsole) Printf(string, ...any) {}

// HelpText is the text shown by the [ShowHelp] command.
const HelpText = `Available commands:
  /auth {Username} {Secret} {DisplayName}
      Authenticate with the server. Username is up to 20 characters of
      [A-Za-z0-9_-], Secret up to 128 of the same, DisplayName up to 20
      printable characters without spaces.
  /join {ChannelID}
      Join the named channel (up to 20 characters of [A-Za-z0-9_-]).
  /rename {DisplayName}
      Change the display name used for your messages. Local only.
  /help
      Show this message.
Any other input is sent as a chat message to the current channel.
Use Ctrl+C or Ctrl+D to exit.`
