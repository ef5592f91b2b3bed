/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package pipeline

import (
	"context"
	"sync"
	"time"
)

// tracker follows running one-off tasks so health can report them and
// shutdown can interrupt them. Session tasks live in the session registry
// and are not tracked here.
type tracker struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	cancels map[string]context.CancelFunc
}

func newTracker() *tracker {
	return &tracker{cancels: map[string]context.CancelFunc{}}
}

func (t *tracker) add(taskId string, cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancels[taskId] = cancel
	t.wg.Add(1)
}

// remove releases the task's context and forgets it. Safe to call once per
// added task.
func (t *tracker) remove(taskId string) {
	t.mu.Lock()
	cancel, ok := t.cancels[taskId]
	if ok {
		delete(t.cancels, taskId)
	}
	t.mu.Unlock()
	if ok {
		cancel()
		t.wg.Done()
	}
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cancels)
}

func (t *tracker) cancelAll() {
	t.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(t.cancels))
	for _, cancel := range t.cancels {
		cancels = append(cancels, cancel)
	}
	t.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// wait blocks until every tracked task has been removed, or the timeout
// passes. It reports whether the tracker drained.
func (t *tracker) wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
