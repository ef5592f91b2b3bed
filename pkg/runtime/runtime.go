/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package runtime

import (
	"context"
	"io"
	"time"
)

const (
	// ModelMountPath is where the model directory appears inside a worker
	// container. Workers locate their weights through the MODEL_PATH env
	// var, which always points here.
	ModelMountPath = "/models"

	// LabelManaged marks every container created by this service so that
	// leftovers can be found and removed across restarts.
	LabelManaged = "gpu-service.managed"

	LabelSessionId = "gpu-service.session_id"
	LabelTaskId    = "gpu-service.task_id"
	LabelModelId   = "gpu-service.model_id"
	LabelGpuId     = "gpu-service.gpu_id"
)

// ContainerSpec describes one worker container. Command runs as the container
// entrypoint arguments, Env is merged with the injected MODEL_PATH, and
// ModelHostPath (when set) is bound read-only at ModelMountPath.
type ContainerSpec struct {
	Image         string
	Command       []string
	Env           map[string]string
	ModelHostPath string
	GpuId         int
	SessionId     string
	TaskId        string
	ModelId       string
	Labels        map[string]string
}

// LogLine is one raw output line, demultiplexed by origin.
type LogLine struct {
	Text   string
	Stderr bool
}

// LineStream delivers container or exec output line by line. Lines closes
// when the producer exits. The consumer must call Close when done with the
// stream, otherwise the pump goroutines behind it never unblock.
type LineStream interface {
	Lines() <-chan LogLine
	// ExitCode blocks until the producer has exited. Call it after Lines
	// closes, at most once.
	ExitCode(ctx context.Context) (int, error)
	Close()
}

// TtyStream is an interactive exec with a terminal attached. Reads return
// raw terminal output, writes feed the process stdin.
type TtyStream interface {
	io.ReadWriteCloser
	Resize(ctx context.Context, height, width uint) error
}

// Interface is the container runtime consumed by the session and task
// layers. Implementations map infrastructure failures to the service error
// codes so callers never see raw daemon errors.
type Interface interface {
	// CreateOneoff creates and starts a short-lived worker container that
	// removes itself once it exits.
	CreateOneoff(ctx context.Context, spec *ContainerSpec) (string, error)
	// CreateLongLived creates and starts a session worker container that
	// stays around until explicitly removed.
	CreateLongLived(ctx context.Context, spec *ContainerSpec) (string, error)
	// Exec runs command inside a running container and streams its output.
	// Env entries are added on top of the container's own environment.
	Exec(ctx context.Context, containerId string, command []string, env map[string]string) (LineStream, error)
	// ExecTty runs command inside a running container with a TTY and stdin
	// attached, for interactive use.
	ExecTty(ctx context.Context, containerId string, command []string) (TtyStream, error)
	// StreamLogs follows the container's own stdout and stderr.
	StreamLogs(ctx context.Context, containerId string) (LineStream, error)
	// Stop asks the container to terminate, escalating to a kill after
	// timeout. Stopping a container that is already gone is not an error.
	Stop(ctx context.Context, containerId string, timeout time.Duration) error
	// Remove force-removes a container. Removing a container that is
	// already gone is not an error.
	Remove(ctx context.Context, containerId string) error
	// CleanupManaged force-removes every container carrying the managed
	// label and reports how many were removed.
	CleanupManaged(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}
