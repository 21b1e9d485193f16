// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

//go:generate go run -tags=tools golang.org/x/tools/cmd/stringer -output=string.go -type=ConnState -linecomment

// Package c2s establishes client-to-server XMPP connections.
//
// A Conn turns a server identity (usually the domainpart of a JID) into a live
// TCP stream.
// It locates the server using DNS SRV records for the xmpp-client service,
// falling back to the A or AAAA records of the domain itself, connects in the
// background and then reads from the stream until it is disconnected.
// Data read from the stream is handed to subscribers registered with OnData
// exactly as it was received; no framing or XML parsing is performed.
//
// A Client drives a Conn through the protocol phases tracked by the lifecycle
// package and retries failed connection attempts with exponential backoff,
// moving on to the next discovered endpoint each time.
//
// Be advised: This API is still unstable and is subject to change.
package c2s // import "mellium.im/c2s"
