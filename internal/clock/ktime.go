// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package clock

import "time"

var origin = time.Now()

// fallbackKtime measures from process start using Go's monotonic reading.
func fallbackKtime() uint64 {
	return uint64(time.Since(origin))
}
