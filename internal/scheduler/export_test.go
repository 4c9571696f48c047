package scheduler

import "time"

// SetSleepForTest replaces the contention backoff sleep.
func SetSleepForTest(s *Scheduler, fn func(time.Duration)) {
	s.sleep = fn
}
