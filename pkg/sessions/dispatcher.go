/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package sessions

import (
	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/catalog"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/metrics"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/stream"
)

// dispatch is the per-session worker. Requests run strictly FIFO, one at a
// time, until the session is stopped or its container becomes unusable.
func (r *Registry) dispatch(session *Session) {
	defer session.tomb.Done()
	for {
		select {
		case <-session.tomb.Stopping():
			return
		case request := <-session.queue:
			metrics.SessionQueueDepth.WithLabelValues(session.Id).Set(float64(session.QueueDepth()))
			if session.Status() == StatusKilled {
				// Lost the race against the kill drain.
				request.Sink.Emit(stream.TaskFinish{Status: stream.StatusFailed, Error: "session killed"})
				return
			}
			if request.Caller != nil && request.Caller.Err() != nil {
				klog.Infof("Skipped task %s, caller disconnected before dispatch", request.TaskId)
				continue
			}
			if !r.serve(session, request) {
				return
			}
		}
	}
}

// serve executes one request in the session container. It reports false when
// the container can no longer be trusted, which ends the dispatcher.
func (r *Registry) serve(session *Session, request *Request) bool {
	session.setStatus(StatusWorking)
	session.setCurrentTask(request.TaskId)
	defer func() {
		session.setCurrentTask("")
		session.Touch()
	}()

	source, err := r.runtime.Exec(session.ctx, session.ContainerId(), request.Command, request.Env)
	if err != nil {
		klog.Errorf("Failed to exec task %s in session %s, error: %v", request.TaskId, session.Id, err)
		request.Sink.Emit(stream.Connection{Status: stream.StatusFailure, Message: err.Error()})
		request.Sink.Emit(stream.TaskFinish{Status: stream.StatusFailed, Error: err.Error()})
		metrics.TasksTotal.WithLabelValues(catalog.TaskTypeSession, stream.StatusFailed).Inc()
		go r.Kill(session.Id, "error")
		return false
	}

	streamer := stream.NewStreamer(r.runtime, request.TaskId, request.Timeout)
	finish := streamer.Run(session.ctx, session.ContainerId(), source, request.Sink)
	metrics.TasksTotal.WithLabelValues(catalog.TaskTypeSession, finish.Status).Inc()

	switch finish.Status {
	case stream.StatusTimeout:
		// The deadline already stopped the shared container.
		go r.Kill(session.Id, "error")
		return false
	case stream.StatusCancelled:
		// The kill path is tearing the session down.
		return false
	default:
		session.setStatus(StatusWaiting)
		return true
	}
}
