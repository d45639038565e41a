package engine

import "time"

// timeNow is a var so tests can stub it; production uses wall-clock time.
var timeNow = func() time.Time { return time.Now().UTC() }

// timeTicker is a var so tests can substitute a fast or manually-driven
// ticker without waiting on real wall-clock intervals.
var timeTicker = func(d time.Duration) *time.Ticker { return time.NewTicker(d) }
