// Copyright 2014 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package jid implements the parts of XMPP addresses (historically called
// "Jabber ID's" or "JID's") that a client needs to locate its server, as
// described in RFC 7622.
//
// The domainpart of an address is the only part that is used when dialing, but
// the localpart and resourcepart are validated and kept so that a JID
// round-trips through String.
package jid // import "mellium.im/c2s/jid"
