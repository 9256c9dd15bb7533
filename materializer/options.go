package materializer

import "time"

// Options configures a Materializer, mirroring the SCHEDULER_* environment
// block in §6.
type Options struct {
	TickInterval time.Duration
	BatchSize    int
	MaxWindows   int
	// Concurrency bounds how many schedules a single tick processes in
	// parallel. Distinct schedules share no mutable state, so this is safe;
	// it does not relax the "no tick overlaps itself" guarantee.
	Concurrency int
}

// DefaultOptions returns the defaults documented in §6: 10s tick interval,
// batch size 20, max windows 5.
func DefaultOptions() Options {
	return Options{
		TickInterval: 10 * time.Second,
		BatchSize:    20,
		MaxWindows:   5,
		Concurrency:  8,
	}
}
