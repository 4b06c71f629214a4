package llm

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// newBreaker builds the circuit breaker guarding provider calls: it opens
// after failureThreshold consecutive failures, probes again after
// recoveryTimeout, and closes after successThreshold half-open successes.
func newBreaker(name string, failureThreshold, successThreshold int, recoveryTimeout time.Duration, logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(successThreshold),
		Timeout:     recoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failureThreshold)
		},
		IsSuccessful: func(err error) bool {
			// Client-side errors do not indicate provider health.
			var se *StatusError
			if errors.As(err, &se) && !se.Retriable() {
				return true
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("llm: breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// wrapBreakerErr converts gobreaker's open-state errors into a typed error
// carrying the retry hint.
func wrapBreakerErr(err error, retryIn time.Duration) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &CircuitOpenError{RetryIn: retryIn}
	}
	return err
}
