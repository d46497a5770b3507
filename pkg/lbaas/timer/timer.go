/*
Copyright 2024 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package timer implements the countdown used while polling Octavia: an
// overall deadline plus an exponentially growing, jittered poll interval.
package timer

import (
	"math/rand/v2"
	"time"

	"k8s.io/utils/clock"
)

const (
	// MaxInterval caps a single wait.
	MaxInterval = 15 * time.Second

	jitterMean   = 0.8
	jitterStdDev = 0.05
)

// Jitter returns the multiplier applied, together with a factor of 2, to the
// previous interval.
type Jitter func() float64

// GaussianJitter draws from N(0.8, 0.05), so each interval grows by roughly 1.6x.
func GaussianJitter() float64 {
	return rand.NormFloat64()*jitterStdDev + jitterMean
}

// Timer is a deadline with a backoff schedule. Use it in a loop:
//
//	for t := timer.New(c, timeout, interval, nil); !t.Expired(); t.Wait() {
//		...
//	}
type Timer struct {
	clock    clock.Clock
	deadline time.Time
	interval time.Duration
	jitter   Jitter
}

// New returns a Timer expiring after timeout. A nil jitter defaults to
// GaussianJitter and a non-positive interval to one second.
func New(c clock.Clock, timeout, interval time.Duration, jitter Jitter) *Timer {
	if jitter == nil {
		jitter = GaussianJitter
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Timer{
		clock:    c,
		deadline: c.Now().Add(timeout),
		interval: interval,
		jitter:   jitter,
	}
}

// Expired reports whether the deadline has been reached.
func (t *Timer) Expired() bool {
	return !t.clock.Now().Before(t.deadline)
}

// Remaining returns the time left until the deadline, never negative.
func (t *Timer) Remaining() time.Duration {
	left := t.deadline.Sub(t.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

// NextDelay advances the schedule and returns the next wait:
// previous * 2 * jitter, capped at MaxInterval and at the remaining time.
func (t *Timer) NextDelay() time.Duration {
	next := time.Duration(float64(t.interval) * 2 * t.jitter())
	next = min(next, MaxInterval)
	next = min(next, t.Remaining())
	next = max(next, 0)
	t.interval = next
	return next
}

// Wait sleeps for NextDelay.
func (t *Timer) Wait() {
	if d := t.NextDelay(); d > 0 {
		t.clock.Sleep(d)
	}
}
