// Copyright 2019 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package discover

import (
	"sync"
)

var supportsIPv6 = sync.OnceValue(probeIPv6)

// SupportsIPv6 reports whether the operating system can create IPv6 sockets.
// The result is computed once.
func SupportsIPv6() bool {
	return supportsIPv6()
}
