package worker

import "time"

// SetSleepForTest replaces the pool's pause between loop iterations.
func SetSleepForTest(p *Pool, fn func(time.Duration)) {
	p.sleep = fn
}
