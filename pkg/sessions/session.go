/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package sessions

import (
	"context"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/channel"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/errors"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/stream"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/timeutil"
)

// Status is the session lifecycle state.
type Status string

const (
	// StatusInitializing means the container is still being created. The
	// session is listed but does not accept requests yet.
	StatusInitializing Status = "initializing"
	// StatusWaiting means the container is idle and ready for work.
	StatusWaiting Status = "waiting"
	// StatusWorking means a task is executing inside the container.
	StatusWorking Status = "working"
	// StatusKilled is terminal.
	StatusKilled Status = "killed"
)

// Request is one task execution queued against a session. Caller is the
// submitting client's context; a request whose caller is gone by dispatch
// time is skipped without touching the container.
type Request struct {
	TaskId  string
	Command []string
	Env     map[string]string
	Timeout time.Duration
	Sink    *stream.Sink
	Caller  context.Context
}

// Session is one long-lived worker container bound to a GPU. Its queue is
// drained by a single dispatch goroutine, so at most one task runs in the
// container at a time.
type Session struct {
	Id         string
	ModelId    string
	Difficulty string
	GpuId      int
	CreatedAt  time.Time

	queue chan *Request
	tomb  *channel.Tomb

	// ctx is cancelled by the kill path to interrupt an in-flight task.
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	status        Status
	containerId   string
	lastActivity  time.Time
	currentTaskId string
}

func newSession(id, modelId, difficulty string, gpuId, queueSize int) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	return &Session{
		Id:           id,
		ModelId:      modelId,
		Difficulty:   difficulty,
		GpuId:        gpuId,
		CreatedAt:    now,
		queue:        make(chan *Request, queueSize),
		tomb:         channel.NewTomb(),
		ctx:          ctx,
		cancel:       cancel,
		status:       StatusInitializing,
		lastActivity: now,
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) ContainerId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.containerId
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Touch resets the idle clock.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// QueueDepth is the number of requests waiting for dispatch.
func (s *Session) QueueDepth() int {
	return len(s.queue)
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	prior := s.status
	s.status = status
	s.mu.Unlock()
	if prior != status {
		klog.Infof("Session %s status: %s -> %s", s.Id, prior, status)
	}
}

func (s *Session) setCurrentTask(taskId string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTaskId = taskId
}

// activate moves the session from initializing to waiting once its container
// is up. It reports false when the session was killed in the meantime, in
// which case the caller still owns the container and the GPU lease.
func (s *Session) activate(containerId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusInitializing {
		return false
	}
	s.containerId = containerId
	s.status = StatusWaiting
	s.lastActivity = time.Now()
	return true
}

// markKilled makes the terminal transition and returns the prior status.
func (s *Session) markKilled() Status {
	s.mu.Lock()
	prior := s.status
	s.status = StatusKilled
	s.mu.Unlock()
	if prior != StatusKilled {
		klog.Infof("Session %s status: %s -> %s", s.Id, prior, StatusKilled)
	}
	return prior
}

// enqueue adds the request without blocking. Status and queue share one
// mutex, so a request is either accepted before a kill drains the queue or
// refused after it; it can never be accepted and then silently lost.
func (s *Session) enqueue(request *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusWaiting && s.status != StatusWorking {
		return errors.NewInvalidSessionState(s.Id, string(s.status))
	}
	if cap(s.queue) == 0 {
		return errors.NewQueueFull(s.Id, 0)
	}
	select {
	case s.queue <- request:
		s.lastActivity = time.Now()
		return nil
	default:
		return errors.NewQueueFull(s.Id, cap(s.queue))
	}
}

// drain empties the queue after the dispatcher has stopped and hands back
// the orphaned requests.
func (s *Session) drain() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var orphans []*Request
	for {
		select {
		case request := <-s.queue:
			orphans = append(orphans, request)
		default:
			return orphans
		}
	}
}

// queueFull is advisory for the reuse scan; enqueue is the authoritative
// check.
func (s *Session) queueFull() bool {
	return cap(s.queue) == 0 || len(s.queue) == cap(s.queue)
}

// View is the API projection of a session.
type View struct {
	SessionId     string `json:"session_id"`
	Status        string `json:"status"`
	GpuDeviceId   int    `json:"gpu_device_id"`
	ContainerId   string `json:"container_id"`
	ModelId       string `json:"model_id"`
	CreatedAt     string `json:"created_at"`
	LastActivity  string `json:"last_activity"`
	QueueSize     int    `json:"queue_size"`
	CurrentTaskId string `json:"current_task_id,omitempty"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		SessionId:     s.Id,
		Status:        string(s.status),
		GpuDeviceId:   s.GpuId,
		ContainerId:   s.containerId,
		ModelId:       s.ModelId,
		CreatedAt:     timeutil.FormatRFC3339Milli(s.CreatedAt),
		LastActivity:  timeutil.FormatRFC3339Milli(s.lastActivity),
		QueueSize:     len(s.queue),
		CurrentTaskId: s.currentTaskId,
	}
}
