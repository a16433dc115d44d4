// Package session runs the bootstrap handshake that hands a node's personal
// IV and key to the server, and the server side that answers it.
package session

import (
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

var (
	ErrAttemptsExhausted = errors.New("session: handshake attempts exhausted")
)

const (
	DefaultPolls       = 4
	DefaultPollTimeout = 500 * time.Millisecond
)

// Policy controls how a handshake is retried. Each attempt sends the message
// once and then waits for up to Polls replies of PollTimeout each.
type Policy struct {
	Polls       int
	PollTimeout time.Duration

	// MaxAttempts bounds the number of send attempts. Zero retries until
	// the context is done.
	MaxAttempts int

	// BaseDelay, MaxDelay and Jitter add exponential backoff between
	// attempts. A zero BaseDelay retries immediately.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64
}

// DefaultPolicy polls four times for half a second and never gives up.
func DefaultPolicy() Policy {
	return Policy{
		Polls:       DefaultPolls,
		PollTimeout: DefaultPollTimeout,
	}
}

func (p Policy) withDefaults() Policy {
	if p.Polls <= 0 {
		p.Polls = DefaultPolls
	}
	if p.PollTimeout <= 0 {
		p.PollTimeout = DefaultPollTimeout
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}

// Delay returns the pause before retry number attempt, counting from 1.
func (p Policy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 || attempt <= 0 {
		return 0
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		delay *= 1 - p.Jitter + rand.Float64()*2*p.Jitter
	}
	return time.Duration(delay)
}

func (p Policy) exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}
