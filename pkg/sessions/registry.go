/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/catalog"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/errors"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/gpu"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/metrics"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/runtime"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/stream"
)

const (
	stopGrace   = 10 * time.Second
	stopTimeout = 30 * time.Second
)

// Spec carries what FindOrCreate needs to pick or build a session. The model
// is already materialized; ModelHostPath points at it when the task has one.
type Spec struct {
	Resolved      *catalog.ResolvedTask
	ModelHostPath string
	// SessionId targets an existing session. When set, reuse by model is
	// not attempted.
	SessionId string
	// CreateSession allows reusing a waiting session of the same model
	// before creating a fresh one.
	CreateSession bool
}

// Registry owns every live session. All lookups go through its mutex; the
// per-session dispatchers run independently and only come back here to kill
// their own session.
type Registry struct {
	runtime   runtime.Interface
	allocator *gpu.Allocator
	queueSize int

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(rt runtime.Interface, allocator *gpu.Allocator, queueSize int) *Registry {
	return &Registry{
		runtime:   rt,
		allocator: allocator,
		queueSize: queueSize,
		sessions:  map[string]*Session{},
	}
}

// FindOrCreate picks the session a request runs in. The bool reports whether
// an existing session was picked over a freshly created one.
func (r *Registry) FindOrCreate(ctx context.Context, spec *Spec) (*Session, bool, error) {
	if spec.SessionId != "" {
		session := r.Get(spec.SessionId)
		if session == nil {
			return nil, false, errors.NewSessionNotFound(spec.SessionId)
		}
		if status := session.Status(); status == StatusKilled || status == StatusInitializing {
			return nil, false, errors.NewInvalidSessionState(spec.SessionId, string(status))
		}
		return session, true, nil
	}
	if spec.CreateSession {
		if session := r.findWaiting(spec.Resolved.ModelId); session != nil {
			klog.Infof("Reusing session %s for model %s", session.Id, spec.Resolved.ModelId)
			return session, true, nil
		}
	}
	session, err := r.create(ctx, spec)
	if err != nil {
		return nil, false, err
	}
	return session, false, nil
}

// findWaiting returns the oldest idle session serving modelId whose queue
// still has room.
func (r *Registry) findWaiting(modelId string) *Session {
	for _, session := range r.sorted() {
		if session.ModelId != modelId {
			continue
		}
		if session.Status() != StatusWaiting || session.queueFull() {
			continue
		}
		return session
	}
	return nil
}

func (r *Registry) create(ctx context.Context, spec *Spec) (*Session, error) {
	resolved := spec.Resolved
	sessionId := uuid.NewString()

	gpuId, err := r.allocator.LeaseFor(resolved.Difficulty, sessionId)
	if err != nil {
		return nil, err
	}

	// Register before the container exists so the session is observable
	// and addressable while it initializes.
	session := newSession(sessionId, resolved.ModelId, resolved.Difficulty, gpuId, r.queueSize)
	r.mu.Lock()
	r.sessions[sessionId] = session
	r.mu.Unlock()

	containerId, err := r.runtime.CreateLongLived(ctx, &runtime.ContainerSpec{
		Image:         resolved.Image,
		Command:       resolved.Command,
		Env:           resolved.EnvVars,
		ModelHostPath: spec.ModelHostPath,
		GpuId:         gpuId,
		SessionId:     sessionId,
		ModelId:       resolved.ModelId,
	})
	if err != nil {
		r.mu.Lock()
		delete(r.sessions, sessionId)
		r.mu.Unlock()
		r.allocator.Release(gpuId)
		return nil, err
	}

	if !session.activate(containerId) {
		// Killed while the container was coming up. The kill path saw
		// neither a container nor a dispatcher, so the unwind is ours.
		r.removeContainer(sessionId, containerId)
		r.allocator.Release(gpuId)
		return nil, errors.NewSessionNotFound(sessionId)
	}

	go r.dispatch(session)
	metrics.ActiveSessions.Inc()
	klog.Infof("Created session %s for model %s on gpu %d", sessionId, resolved.ModelId, gpuId)
	return session, nil
}

// Enqueue adds the request to the session queue without blocking. A full
// queue refuses the request so the caller can surface a retry hint.
func (r *Registry) Enqueue(session *Session, request *Request) error {
	if err := session.enqueue(request); err != nil {
		return err
	}
	depth := session.QueueDepth()
	metrics.SessionQueueDepth.WithLabelValues(session.Id).Set(float64(depth))
	klog.Infof("Enqueued task %s to session %s (depth=%d)", request.TaskId, session.Id, depth)
	return nil
}

// Get returns the live session or nil.
func (r *Registry) Get(sessionId string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionId]
}

// List returns API views of every session, oldest first.
func (r *Registry) List() []View {
	sessions := r.sorted()
	views := make([]View, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, session.View())
	}
	return views
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Keepalive bumps the idle clock so the reaper leaves the session alone.
func (r *Registry) Keepalive(sessionId string) error {
	session := r.Get(sessionId)
	if session == nil {
		return errors.NewSessionNotFound(sessionId)
	}
	session.Touch()
	return nil
}

// Kill tears the session down: queued requests receive a failed TaskFinish,
// an in-flight task is interrupted, the container is removed and the GPU
// released. The registry entry is dropped first, so concurrent kills race
// for it and exactly one runs the teardown.
func (r *Registry) Kill(sessionId, reason string) error {
	r.mu.Lock()
	session, ok := r.sessions[sessionId]
	if ok {
		delete(r.sessions, sessionId)
	}
	r.mu.Unlock()
	if !ok {
		return errors.NewSessionNotFound(sessionId)
	}
	r.terminate(session, reason)
	return nil
}

// Shutdown kills every session. Called once at server stop.
func (r *Registry) Shutdown() {
	for _, session := range r.snapshot() {
		if err := r.Kill(session.Id, "shutdown"); err != nil && !errors.IsNotFound(err) {
			klog.Warningf("Failed to kill session %s during shutdown, error: %v", session.Id, err)
		}
	}
}

func (r *Registry) terminate(session *Session, reason string) {
	prior := session.markKilled()
	if prior == StatusInitializing {
		// No container and no dispatcher yet. The creating goroutine sees
		// the killed state when it tries to activate and unwinds there.
		klog.Infof("Killed session %s while initializing (reason=%s)", session.Id, reason)
		return
	}

	session.cancel()
	session.tomb.Stop()

	for _, request := range session.drain() {
		klog.Infof("Dropping queued task %s, session %s is killed", request.TaskId, session.Id)
		request.Sink.Emit(stream.TaskFinish{
			Status: stream.StatusFailed,
			Error:  "session killed: " + reason,
		})
	}

	if containerId := session.ContainerId(); containerId != "" {
		r.removeContainer(session.Id, containerId)
	}
	r.allocator.Release(session.GpuId)
	metrics.ActiveSessions.Dec()
	metrics.DropSession(session.Id)
	klog.Infof("Killed session %s (reason=%s)", session.Id, reason)
}

func (r *Registry) removeContainer(sessionId, containerId string) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := r.runtime.Stop(ctx, containerId, stopGrace); err != nil {
		klog.Warningf("Failed to stop container of session %s, error: %v", sessionId, err)
	}
	if err := r.runtime.Remove(ctx, containerId); err != nil {
		klog.Warningf("Failed to remove container of session %s, error: %v", sessionId, err)
	}
}

func (r *Registry) snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// sorted is snapshot ordered by creation time, oldest first.
func (r *Registry) sorted() []*Session {
	sessions := r.snapshot()
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].Id < sessions[j].Id
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}
