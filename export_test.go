// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package c2s

import (
	"mellium.im/c2s/internal/discover"
)

// WithTransport replaces the DNS transport used for discovery.
func WithTransport(t discover.Transport) ConnOption {
	return func(c *Conn) {
		c.transport = t
	}
}
