// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package ipkchat

import (
	"context"
	"fmt"
	"io"
)

// A Command is a user action submitted to a [Session]. The concrete types are
// [Authenticate], [JoinChannel], [SendChat], [Rename], [ShowHelp], and
// [Unrecognized].
type Command interface {
	command()
}

// Authenticate requests authentication with the server.
type Authenticate struct {
	Username    string
	Secret      string
	DisplayName string
}

// JoinChannel requests a move to another channel.
type JoinChannel struct {
	ChannelID string
}

// SendChat sends a chat message to the current channel.
type SendChat struct {
	Text string
}

// Rename changes the local display name. It sends nothing to the server.
type Rename struct {
	DisplayName string
}

// ShowHelp prints a summary of the available commands.
type ShowHelp struct{}

// Unrecognized is input that could not be parsed as a valid command.
type Unrecognized struct {
	Input  string // the text as entered
	Reason string // a diagnostic for the user
}

func (Authenticate) command() {}
func (JoinChannel) command()  {}
func (SendChat) command()     {}
func (Rename) command()       {}
func (ShowHelp) command()     {}
func (Unrecognized) command() {}

func (c Authenticate) String() string {
	return fmt.Sprintf("auth %s as %s", c.Username, c.DisplayName)
}
func (c JoinChannel) String() string { return "join " + c.ChannelID }
func (c SendChat) String() string    { return fmt.Sprintf("chat (%d bytes)", len(c.Text)) }
func (c Rename) String() string      { return "rename " + c.DisplayName }
func (ShowHelp) String() string      { return "help" }
func (c Unrecognized) String() string {
	return fmt.Sprintf("unrecognized %q", c.Input)
}

// A CommandSource yields commands for a session. Next blocks until a command
// is available or ctx ends. It reports io.EOF when no further commands will
// be produced.
type CommandSource interface {
	Next(ctx context.Context) (Command, error)
}

// Commands is a CommandSource that yields the commands of a fixed slice, then
// reports io.EOF.
type Commands []Command

// Next implements the [CommandSource] interface.
func (c *Commands) Next(ctx context.Context) (Command, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(*c) == 0 {
		return nil, io.EOF
	}
	next := (*c)[0]
	*c = (*c)[1:]
	return next, nil
}
