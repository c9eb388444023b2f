package watcher

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// apiBreaker bounds how many consecutive poll cycles may fail on API errors
// before the run is aborted. With a threshold of 1 the first failure opens
// the circuit and the wait fails fast.
type apiBreaker struct {
	cb *gobreaker.CircuitBreaker
}

func newAPIBreaker(name string, threshold int, logger *slog.Logger) *apiBreaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &apiBreaker{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			// Once open the run is over; the cooldown only needs to outlast it.
			Timeout: 24 * time.Hour,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(threshold)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Debug("api failure budget state change", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// run executes fn through the breaker.
func (b *apiBreaker) run(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// exhausted reports whether the failure budget has been used up.
func (b *apiBreaker) exhausted() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// failures returns the current run of consecutive failures.
func (b *apiBreaker) failures() uint32 {
	return b.cb.Counts().ConsecutiveFailures
}
