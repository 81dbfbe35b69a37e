// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package ipkchat

import (
	"errors"
	"io"
	"net"
)

var (
	// ErrProtocol is reported by a session that ended because of a protocol
	// violation, whether detected locally or implied by the server's silence.
	ErrProtocol = errors.New("protocol violation")

	// ErrSessionClosed is reported by Submit after a session has ended.
	ErrSessionClosed = errors.New("session is closed")
)

func treatErrorAsSuccess(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
