// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package c2s

import (
	"errors"
)

// Errors returned by this package.
var (
	// ErrInvalidArgument is returned synchronously, before any network activity,
	// when Connect is called with an empty hostname or address.
	ErrInvalidArgument = errors.New("c2s: invalid argument")

	// ErrAlreadyConnected is returned by Connect if the connection is already
	// connecting or connected.
	ErrAlreadyConnected = errors.New("c2s: already connected")

	// ErrNotConnected is returned by Disconnect if there is no connection to
	// shut down, including when Connect was never called.
	ErrNotConnected = errors.New("c2s: not connected")

	// ErrClosed is returned when using a Conn after Close.
	ErrClosed = errors.New("c2s: use of closed connection")

	// ErrEncryptionUnsupported is returned by StartEncryption when encryption
	// is enabled; the handshake must be performed by the caller.
	ErrEncryptionUnsupported = errors.New("c2s: encryption handshake not supported")

	// ErrSessionEnded is returned by Client.Connect if the connection ended
	// before it was established.
	ErrSessionEnded = errors.New("c2s: connection ended before it was established")
)
