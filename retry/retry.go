// Package retry bounds hardware calls by the communication budget of the
// host runtime.
package retry

import (
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// CallBudget is the deadline the host runtime allows for a single call into
// a controller.
const CallBudget = 3 * time.Second

// attemptOverhead is added to the socket timeout for every attempt.
const attemptOverhead = 100 * time.Millisecond

// Attempts returns how many tries of a call with the given socket timeout fit
// in CallBudget. It is never less than one.
func Attempts(timeout time.Duration) int {
	n := int(math.Floor(CallBudget.Seconds() / (timeout + attemptOverhead).Seconds()))
	if n < 1 {
		return 1
	}
	return n
}

// ExhaustedError is returned when every attempt failed. Err is the last
// failure.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

type Policy struct {
	Attempts int
	Log      logrus.FieldLogger
}

// New returns a policy sized for timeout.
func New(timeout time.Duration, log logrus.FieldLogger) Policy {
	return Policy{Attempts: Attempts(timeout), Log: log}
}

// Do calls fn until it succeeds or the attempts run out. Attempts are
// sequential.
func (p Policy) Do(op string, fn func() error) error {
	n := p.Attempts
	if n < 1 {
		n = 1
	}
	var err error
	for i := 0; i < n; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if p.Log != nil {
			p.Log.WithFields(logrus.Fields{
				"op":      op,
				"attempt": i,
			}).WithError(err).Warn("hardware call failed, retrying")
		}
	}
	return &ExhaustedError{Op: op, Attempts: n, Err: err}
}
