// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"log/slog"
	"sync"
	"time"
)

// Scheduler fires periodic flush requests on its own goroutine,
// independent of size-based triggers. A non-positive interval disables
// periodic flushing entirely.
type Scheduler struct {
	interval time.Duration
	flush    func()
	logger   *slog.Logger

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  bool
	disabled bool
}

// NewScheduler creates a flush scheduler calling flush every interval.
func NewScheduler(interval time.Duration, flush func(), logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		interval: interval,
		flush:    flush,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		disabled: interval <= 0,
	}
}

// Start launches the timer loop. No-op when disabled.
func (s *Scheduler) Start() {
	if s.disabled || s.started {
		return
	}
	s.started = true
	go s.run()
	s.logger.Debug("flush scheduler started", slog.Duration("interval", s.interval))
}

func (s *Scheduler) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

// Stop halts the timer and waits for the loop to exit: no flush request
// fires after Stop returns. A scheduler that never started stops
// trivially.
func (s *Scheduler) Stop() {
	if s.disabled || !s.started {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}
