package tcp

import "time"

// SystemClock implements Clock using the wall/monotonic clock from the time package.
type SystemClock struct{}

// Now returns time.Now.
func (SystemClock) Now() time.Time { return time.Now() }
