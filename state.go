// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package ipkchat

import "fmt"

// State is the state of a client session.
type State int

const (
	Start          State = iota // not yet connected
	Connected                   // channel established, not authenticated
	Authenticating              // Auth sent, awaiting its Reply
	Joined                      // authenticated and in a channel
	Joining                     // Join sent, awaiting its Reply
	End                         // terminated; absorbing
)

var stateStr = [...]string{
	Start:          "START",
	Connected:      "CONNECTED",
	Authenticating: "AUTHENTICATING",
	Joined:         "JOINED",
	Joining:        "JOINING",
	End:            "END",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateStr) {
		return stateStr[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// awaitingReply reports whether s has a request outstanding.
func (s State) awaitingReply() bool { return s == Authenticating || s == Joining }

// authenticated reports whether the session has a confirmed identity in s.
func (s State) authenticated() bool { return s == Joined || s == Joining }

// sendsBye reports whether a locally-initiated shutdown in s says goodbye to
// the server.
func (s State) sendsBye() bool { return s == Authenticating || s == Joining || s == Joined }

// resolveReply reports the state that follows the resolution of an
// outstanding request in state cur. The prev state is the one in effect
// before the request was sent.
func resolveReply(cur, prev State, ok bool) State {
	switch {
	case ok:
		return Joined
	case cur == Joining:
		return Joined
	default:
		return prev
	}
}
