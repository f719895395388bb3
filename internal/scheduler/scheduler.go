// Package scheduler implements the long-poll claim (§4.F): the scheduler
// does not push, a worker calls Claim and either gets an eligible job
// immediately or subscribes to a per-executor wake broker and waits up to
// a deadline. The wake broker is modeled on kilroy's server.Broadcaster
// (internal/server/sse.go): fan-out channels with a non-blocking send,
// adapted from "replay every event to every subscriber" to "wake every
// waiting claimant once, then let them re-race the claim search".
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/Micheleww/scc-gateway/internal/jobstore"
)

// Scheduler matches queued jobs to idle workers.
type Scheduler struct {
	jobs   *jobstore.Store
	config ConcurrencyLookup

	mu      sync.Mutex
	waiters map[string]map[uint64]chan struct{} // executor -> subscriber id -> wake channel
	nextID  uint64
}

// ConcurrencyLookup resolves the per-executor running-job cap (0 means
// uncapped), letting the scheduler stay decoupled from internal/config.
type ConcurrencyLookup func(executor string) int

// New creates a Scheduler over the given job store.
func New(jobs *jobstore.Store, concurrency ConcurrencyLookup) *Scheduler {
	if concurrency == nil {
		concurrency = func(string) int { return 0 }
	}
	return &Scheduler{
		jobs:    jobs,
		config:  concurrency,
		waiters: make(map[string]map[uint64]chan struct{}),
	}
}

// Wake notifies every claimant currently long-polling on executor that a
// job may now be available. Called by the lifecycle controller on every
// enqueue, including the fresh job a retry dispatches.
func (s *Scheduler) Wake(executor string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.waiters[executor] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Scheduler) subscribe(executor string) (<-chan struct{}, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waiters[executor] == nil {
		s.waiters[executor] = make(map[uint64]chan struct{})
	}
	id := s.nextID
	s.nextID++
	ch := make(chan struct{}, 1)
	s.waiters[executor][id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.waiters[executor], id)
	}
}

// Claim implements the long-poll claim semantics of §4.F:
//  1. search immediately for an eligible queued job;
//  2. if none, wait up to waitMs, re-checking on every wake;
//  3. on match, atomically transition the job (jobstore.Store.Claim does
//     this under its own lock) and return it;
//  4. if the wait window elapses, return (nil, nil); the caller maps
//     this to HTTP 204.
func (s *Scheduler) Claim(ctx context.Context, executor string, models []string, workerID string, waitMs int) (*jobstore.Job, error) {
	runningCap := s.config(executor)

	if job, err := s.jobs.Claim(executor, models, workerID, runningCap); err != nil {
		return nil, err
	} else if job != nil {
		return job, nil
	}

	if waitMs <= 0 {
		return nil, nil
	}

	wake, unsubscribe := s.subscribe(executor)
	defer unsubscribe()

	deadline := time.NewTimer(time.Duration(waitMs) * time.Millisecond)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-wake:
			job, err := s.jobs.Claim(executor, models, workerID, runningCap)
			if err != nil {
				return nil, err
			}
			if job != nil {
				return job, nil
			}
			// Another waiter won the race; keep waiting for the deadline.
		}
	}
}
