package data

import "time"

// TimeProvider supplies the clock for repository timestamps (updated_at,
// retention cutoffs, backoff scheduling). Tests swap in a fixed clock to make
// cutoff math deterministic.
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider is the production clock.
type RealTimeProvider struct{}

func (*RealTimeProvider) Now() time.Time { return time.Now() }
