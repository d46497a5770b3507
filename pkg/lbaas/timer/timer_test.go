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

package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	clocktesting "k8s.io/utils/clock/testing"
)

func fixedJitter(v float64) Jitter {
	return func() float64 { return v }
}

func TestNextDelay(t *testing.T) {
	tests := []struct {
		name     string
		timeout  time.Duration
		interval time.Duration
		jitter   float64
		expected []time.Duration
	}{
		{
			name:     "fast path grows by 1.6x",
			timeout:  time.Hour,
			interval: time.Second,
			jitter:   0.8,
			expected: []time.Duration{1600 * time.Millisecond, 2560 * time.Millisecond, 4096 * time.Millisecond},
		},
		{
			name:     "capped at fifteen seconds",
			timeout:  time.Hour,
			interval: 10 * time.Second,
			jitter:   1,
			expected: []time.Duration{MaxInterval, MaxInterval},
		},
		{
			name:     "capped at remaining budget",
			timeout:  4 * time.Second,
			interval: 3 * time.Second,
			jitter:   0.8,
			expected: []time.Duration{4 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := clocktesting.NewFakeClock(time.Now())
			tm := New(c, tt.timeout, tt.interval, fixedJitter(tt.jitter))
			for _, want := range tt.expected {
				assert.Equal(t, want, tm.NextDelay())
			}
		})
	}
}

func TestLoopUntilExpired(t *testing.T) {
	c := clocktesting.NewFakeClock(time.Now())
	start := c.Now()

	iterations := 0
	for tm := New(c, 10*time.Second, time.Second, fixedJitter(0.8)); !tm.Expired(); tm.Wait() {
		iterations++
		assert.Greater(t, tm.Remaining(), time.Duration(0))
	}

	// 1.6 + 2.56 + 4.096 = 8.256s, then the remaining 1.744s
	assert.Equal(t, 4, iterations)
	assert.Equal(t, 10*time.Second, c.Since(start))
}

func TestRemainingNeverNegative(t *testing.T) {
	c := clocktesting.NewFakeClock(time.Now())
	tm := New(c, time.Second, time.Second, nil)
	c.Step(time.Minute)

	assert.True(t, tm.Expired())
	assert.Equal(t, time.Duration(0), tm.Remaining())
	assert.Equal(t, time.Duration(0), tm.NextDelay())
}

func TestGaussianJitterRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		j := GaussianJitter()
		// 10 standard deviations either side
		assert.InDelta(t, 0.8, j, 0.5)
	}
}
