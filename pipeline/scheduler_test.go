// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduler_FiresPeriodically(t *testing.T) {
	var ticks atomic.Int32
	s := NewScheduler(20*time.Millisecond, func() { ticks.Add(1) }, nil)
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return ticks.Load() >= 3 },
		2*time.Second, 5*time.Millisecond)
}

func TestScheduler_StopIsSynchronous(t *testing.T) {
	var ticks atomic.Int32
	s := NewScheduler(10*time.Millisecond, func() { ticks.Add(1) }, nil)
	s.Start()

	time.Sleep(35 * time.Millisecond)
	s.Stop()
	after := ticks.Load()

	// No tick may fire once Stop has returned.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, ticks.Load())
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, func() {}, nil)
	s.Start()
	s.Stop()
	s.Stop()
}

func TestScheduler_StopWithoutStartReturns(t *testing.T) {
	s := NewScheduler(10*time.Millisecond, func() {}, nil)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop on a never-started scheduler must not block")
	}
}

func TestScheduler_DisabledWithoutInterval(t *testing.T) {
	var ticks atomic.Int32
	s := NewScheduler(0, func() { ticks.Add(1) }, nil)
	s.Start()

	time.Sleep(30 * time.Millisecond)
	s.Stop()
	assert.Equal(t, int32(0), ticks.Load())
}
