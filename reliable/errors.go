// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package reliable

import (
	"errors"
	"fmt"

	"github.com/creachadair/ipkchat/proto"
)

var (
	// ErrUnconfirmed indicates that the peer never confirmed a message.
	ErrUnconfirmed = errors.New("message not confirmed")

	// ErrNoReply indicates that the peer confirmed a request but did not
	// reply to it in time.
	ErrNoReply = errors.New("no reply received")

	errTrackerClosed = errors.New("tracker is closed")
)

// DeliveryError is the concrete type of errors reported when a message sent
// over the datagram transport was not acknowledged. Its Err field is one of
// [ErrUnconfirmed] or [ErrNoReply].
type DeliveryError struct {
	ID   uint16     // the ID of the undelivered message
	Kind proto.Kind // the type of the undelivered message
	Err  error
}

// Error satisfies the error interface.
func (d *DeliveryError) Error() string {
	return fmt.Sprintf("%v message %d: %v", d.Kind, d.ID, d.Err)
}

// Unwrap reports the underlying cause of d.
func (d *DeliveryError) Unwrap() error { return d.Err }
