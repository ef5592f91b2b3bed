/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package pipeline turns accepted submissions into running containers and
// event streams. It is the only place that decides between the one-off and
// session execution paths.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/catalog"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/gpu"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/metrics"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/models"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/runtime"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/sessions"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/stream"
)

const (
	stopGrace    = 10 * time.Second
	stopTimeout  = 30 * time.Second
	shutdownWait = 45 * time.Second
)

// Submission is one parsed task request, already reduced to the fields the
// pipeline acts on.
type Submission struct {
	TaskName       string
	Difficulty     string
	TimeoutSeconds int
	Metadata       map[string]interface{}
	SessionId      string
	CreateSession  bool
}

// Task is an accepted submission. Its sink carries the event stream; the
// opening connection event is already buffered when Handle returns.
type Task struct {
	Id   string
	Name string
	Kind string
	Sink *stream.Sink
}

type Pipeline struct {
	catalog   *catalog.Catalog
	cache     *models.Cache
	allocator *gpu.Allocator
	registry  *sessions.Registry
	runtime   runtime.Interface
	tracker   *tracker
}

func NewPipeline(cat *catalog.Catalog, cache *models.Cache, allocator *gpu.Allocator, registry *sessions.Registry, rt runtime.Interface) *Pipeline {
	return &Pipeline{
		catalog:   cat,
		cache:     cache,
		allocator: allocator,
		registry:  registry,
		runtime:   rt,
		tracker:   newTracker(),
	}
}

// Handle validates one submission and starts it. Errors returned here occur
// before the event stream opens and carry HTTP status information; once a
// Task comes back, every later failure is delivered in-band on its sink.
func (p *Pipeline) Handle(ctx context.Context, submission *Submission) (*Task, error) {
	resolved, err := p.catalog.Resolve(submission.TaskName, catalog.Overrides{
		Difficulty:     submission.Difficulty,
		TimeoutSeconds: submission.TimeoutSeconds,
		Metadata:       submission.Metadata,
	})
	if err != nil {
		return nil, err
	}

	modelPath, err := p.ensureModel(ctx, resolved)
	if err != nil {
		return nil, err
	}

	taskId := uuid.NewString()
	klog.Infof("Task %s accepted (name=%s, kind=%s, difficulty=%s)",
		taskId, resolved.TaskName, resolved.TaskType, resolved.Difficulty)

	if resolved.TaskType == catalog.TaskTypeSession {
		return p.startSession(ctx, taskId, resolved, modelPath, submission)
	}
	return p.startOneoff(ctx, taskId, resolved, modelPath)
}

// ActiveTasks is the number of one-off tasks currently running.
func (p *Pipeline) ActiveTasks() int {
	return p.tracker.count()
}

// Shutdown interrupts running one-off tasks and waits for their containers
// to wind down. Sessions are torn down by their registry, not here.
func (p *Pipeline) Shutdown() {
	running := p.tracker.count()
	if running > 0 {
		klog.Infof("Interrupting %d running tasks", running)
	}
	p.tracker.cancelAll()
	if !p.tracker.wait(shutdownWait) {
		klog.Warning("Some tasks did not stop within the shutdown budget")
	}
}

func (p *Pipeline) startOneoff(ctx context.Context, taskId string, resolved *catalog.ResolvedTask, modelPath string) (*Task, error) {
	gpuId, err := p.allocator.LeaseFor(resolved.Difficulty, taskId)
	if err != nil {
		return nil, err
	}

	sink := stream.NewSink(stream.DefaultSinkSize)
	sink.Emit(stream.Connection{Status: stream.StatusAllocated, GpuId: &gpuId})

	taskCtx, cancel := context.WithCancel(ctx)
	p.tracker.add(taskId, cancel)
	go p.runOneoff(taskCtx, taskId, resolved, modelPath, gpuId, sink)

	return &Task{Id: taskId, Name: resolved.TaskName, Kind: resolved.TaskType, Sink: sink}, nil
}

// runOneoff owns the GPU lease and the tracker entry for its task. The sink
// outlives the HTTP caller, so failures past this point go in-band.
func (p *Pipeline) runOneoff(ctx context.Context, taskId string, resolved *catalog.ResolvedTask, modelPath string, gpuId int, sink *stream.Sink) {
	defer p.allocator.Release(gpuId)
	defer p.tracker.remove(taskId)

	containerId, err := p.runtime.CreateOneoff(ctx, &runtime.ContainerSpec{
		Image:         resolved.Image,
		Command:       resolved.Command,
		Env:           mergedEnv(resolved.EnvVars, metadataEnv(resolved.Metadata)),
		ModelHostPath: modelPath,
		GpuId:         gpuId,
		TaskId:        taskId,
		ModelId:       resolved.ModelId,
	})
	if err != nil {
		klog.Errorf("Failed to create container for task %s, error: %v", taskId, err)
		p.failInBand(sink, err)
		return
	}

	source, err := p.runtime.StreamLogs(ctx, containerId)
	if err != nil {
		klog.Errorf("Failed to stream logs of task %s, error: %v", taskId, err)
		p.failInBand(sink, err)
		p.stopContainer(taskId, containerId)
		return
	}

	timeout := time.Duration(resolved.TimeoutSeconds) * time.Second
	finish := stream.NewStreamer(p.runtime, taskId, timeout).Run(ctx, containerId, source, sink)
	metrics.TasksTotal.WithLabelValues(catalog.TaskTypeOneoff, finish.Status).Inc()
	klog.Infof("Task %s finished with status %s after %ds", taskId, finish.Status, finish.ElapsedSeconds)
}

func (p *Pipeline) startSession(ctx context.Context, taskId string, resolved *catalog.ResolvedTask, modelPath string, submission *Submission) (*Task, error) {
	session, reused, err := p.registry.FindOrCreate(ctx, &sessions.Spec{
		Resolved:      resolved,
		ModelHostPath: modelPath,
		SessionId:     submission.SessionId,
		CreateSession: submission.CreateSession,
	})
	if err != nil {
		return nil, err
	}

	gpuId := session.GpuId
	status := stream.StatusAllocated
	if reused {
		status = stream.StatusSessionFound
	}
	sink := stream.NewSink(stream.DefaultSinkSize)
	sink.Emit(stream.Connection{Status: status, GpuId: &gpuId, SessionId: session.Id})

	request := &sessions.Request{
		TaskId:  taskId,
		Command: resolved.Command,
		Env:     metadataEnv(resolved.Metadata),
		Timeout: time.Duration(resolved.TimeoutSeconds) * time.Second,
		Sink:    sink,
		Caller:  ctx,
	}
	if err := p.registry.Enqueue(session, request); err != nil {
		if !reused {
			// A fresh session that cannot take its first request has no
			// reason to live.
			if killErr := p.registry.Kill(session.Id, "error"); killErr != nil {
				klog.Warningf("Failed to kill session %s, error: %v", session.Id, killErr)
			}
		}
		return nil, err
	}
	return &Task{Id: taskId, Name: resolved.TaskName, Kind: resolved.TaskType, Sink: sink}, nil
}

// ensureModel resolves the host directory for the task's model. A path from
// the catalog wins when it exists on disk; otherwise the model cache takes
// over, fetching when allowed.
func (p *Pipeline) ensureModel(ctx context.Context, resolved *catalog.ResolvedTask) (string, error) {
	if resolved.ModelId == "" {
		return "", nil
	}
	if resolved.ModelPath != "" {
		if _, err := os.Stat(resolved.ModelPath); err == nil {
			return resolved.ModelPath, nil
		}
		klog.Warningf("Configured path %s for model %s is not usable, falling back to the cache",
			resolved.ModelPath, resolved.ModelId)
	}
	return p.cache.Ensure(ctx, resolved.ModelId)
}

func (p *Pipeline) failInBand(sink *stream.Sink, err error) {
	sink.Emit(stream.Connection{Status: stream.StatusFailure, Message: err.Error()})
	sink.Emit(stream.TaskFinish{Status: stream.StatusFailed, Error: err.Error()})
	metrics.TasksTotal.WithLabelValues(catalog.TaskTypeOneoff, stream.StatusFailed).Inc()
}

// stopContainer forces a one-off container down after a failure between
// create and attach. Stopping is enough, the runtime removes one-off
// containers automatically once they exit.
func (p *Pipeline) stopContainer(taskId, containerId string) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := p.runtime.Stop(ctx, containerId, stopGrace); err != nil {
		klog.Warningf("Failed to stop container %s of task %s, error: %v", containerId, taskId, err)
	}
}

// metadataEnv maps resolved metadata into METADATA_* environment variables
// for the worker process.
func metadataEnv(metadata map[string]interface{}) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	env := make(map[string]string, len(metadata))
	for key, value := range metadata {
		env["METADATA_"+strings.ToUpper(key)] = fmt.Sprintf("%v", value)
	}
	return env
}

func mergedEnv(base, extra map[string]string) map[string]string {
	if len(extra) == 0 {
		return base
	}
	merged := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		merged[key] = value
	}
	for key, value := range extra {
		merged[key] = value
	}
	return merged
}
