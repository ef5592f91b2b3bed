/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package stream

import (
	"context"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/runtime"
)

const (
	// DefaultSinkSize buffers enough events that a worker finishing fast
	// never waits on a slow SSE writer.
	DefaultSinkSize = 64

	stopGrace   = 10 * time.Second
	stopTimeout = 30 * time.Second
)

// Sink carries one task's event stream to a single consumer. The stream is
// terminated by a TaskFinish event, not by closing the channel. Close marks
// the consumer gone; from then on Emit silently drops events so producers
// can run their shutdown sequence without a reader.
type Sink struct {
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func NewSink(size int) *Sink {
	return &Sink{
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
}

// Events is the consumer side of the sink.
func (s *Sink) Events() <-chan Event { return s.events }

// Done is closed once the consumer is gone.
func (s *Sink) Done() <-chan struct{} { return s.done }

// Emit queues ev, blocking while the consumer is behind. It reports false
// when ev was dropped because the sink is closed.
func (s *Sink) Emit(ev Event) bool {
	if ev == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Close is idempotent and safe to call from the consumer while producers
// are emitting.
func (s *Sink) Close() {
	s.once.Do(func() { close(s.done) })
}

// Streamer pumps one task's worker output into a sink, parsing framed
// lines into events and enforcing the task deadline. Every Run emits
// exactly one TaskFinish, whatever path the task takes.
type Streamer struct {
	runtime runtime.Interface
	taskId  string
	timeout time.Duration
}

func NewStreamer(rt runtime.Interface, taskId string, timeout time.Duration) *Streamer {
	return &Streamer{
		runtime: rt,
		taskId:  taskId,
		timeout: timeout,
	}
}

// Run consumes source until a finish frame, the deadline, source EOF, or
// ctx cancellation, whichever comes first. The terminal TaskFinish is
// emitted to the sink and returned so the caller can act on the outcome.
// Run closes source before returning.
func (s *Streamer) Run(ctx context.Context, containerId string, source runtime.LineStream, sink *Sink) TaskFinish {
	started := time.Now()
	defer source.Close()

	sink.Emit(Worker{Status: StatusCreated, ContainerId: containerId})

	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()

	for {
		select {
		case line, ok := <-source.Lines():
			if !ok {
				klog.Warningf("Task %s: worker exited without a finish frame", s.taskId)
				return s.finish(sink, started, TaskFinish{
					Status: StatusFailed,
					Error:  "exited without finish",
				})
			}
			event := ParseFrame(line.Text, line.Stderr)
			if event == nil {
				continue
			}
			if finish, isFinish := event.(TaskFinish); isFinish {
				return s.finish(sink, started, finish)
			}
			sink.Emit(event)
		case <-deadline.C:
			klog.Warningf("Task %s exceeded its %s deadline, stopping container", s.taskId, s.timeout)
			s.stopContainer(containerId)
			return s.finish(sink, started, TaskFinish{
				Status: StatusTimeout,
				Error:  "task timeout exceeded",
			})
		case <-ctx.Done():
			klog.Infof("Task %s cancelled, stopping container", s.taskId)
			s.stopContainer(containerId)
			return s.finish(sink, started, TaskFinish{
				Status: StatusCancelled,
				Error:  "task cancelled",
			})
		}
	}
}

func (s *Streamer) finish(sink *Sink, started time.Time, finish TaskFinish) TaskFinish {
	finish.ElapsedSeconds = int(time.Since(started).Seconds())
	sink.Emit(finish)
	return finish
}

func (s *Streamer) stopContainer(containerId string) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := s.runtime.Stop(ctx, containerId, stopGrace); err != nil {
		klog.Warningf("Failed to stop container %s, error: %v", containerId, err)
	}
}
