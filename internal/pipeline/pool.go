// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/bcem/leakfeed/internal/models"
)

var (
	// ErrQueueFull is returned by Submit when the payload queue is
	// saturated. Callers decide whether to block, drop, or report
	// backpressure upstream.
	ErrQueueFull = errors.New("pipeline queue full")

	// ErrStopped is returned by Submit once Stop has begun; late
	// submissions are refused instead of racing the queue close.
	ErrStopped = errors.New("pipeline stopped")
)

// Pool processes archive payloads on a fixed set of workers. Each payload
// runs on exactly one worker; no ordering is guaranteed between archives.
// Cancellation is honoured between archives, never mid-archive, so a run
// that has started always finishes and cleans up its working area.
type Pool struct {
	runner   *Runner
	payloads chan models.ArchivePayload
	workers  int

	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPool creates a worker pool over the given runner.
func NewPool(runner *Runner, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		runner:   runner,
		payloads: make(chan models.ArchivePayload, queueSize),
		workers:  workers,
	}
}

// Start launches the workers. They exit once the queue is closed and
// drained, or once ctx is cancelled between archives.
func (p *Pool) Start(ctx context.Context) {
	for w := 0; w < p.workers; w++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-p.payloads:
					if !ok {
						return
					}
					if _, err := p.runner.Run(ctx, payload); err != nil {
						slog.Error("pipeline run failed",
							"worker", id,
							"archive", payload.Filename,
							"error", err,
						)
					}
				}
			}
		}(w)
	}
	slog.Info("pipeline workers started", "workers", p.workers, "queue", cap(p.payloads))
}

// Submit enqueues a payload without blocking. Returns ErrQueueFull when
// the queue is saturated, ErrStopped after Stop, and ctx.Err when the
// caller's context is done. The mutex keeps the send out of Stop's close
// window: an intake request that straggles past shutdown gets an error,
// not a send on a closed channel.
func (p *Pool) Submit(ctx context.Context, payload models.ArchivePayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrStopped
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.payloads <- payload:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for in-flight runs to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.payloads)
	})
	p.wg.Wait()
}
