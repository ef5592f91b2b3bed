/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package runtime

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/distribution/reference"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/errors"
)

// maxLineBytes bounds a single worker output line. Frames larger than this
// terminate the stream.
const maxLineBytes = 1 << 20

// Options configures the docker adapter. MemoryLimit accepts docker-style
// sizes ("16g"); CpuQuota is in microseconds per 100ms period. An empty
// AllowedImages list allows every image.
type Options struct {
	SocketPath    string
	MemoryLimit   string
	CpuQuota      int64
	AllowedImages []string
}

type dockerRuntime struct {
	cli         *client.Client
	memoryBytes int64
	cpuQuota    int64
	allowed     []string
}

// NewDockerRuntime connects to the docker daemon, honoring DOCKER_HOST and
// friends unless SocketPath overrides them.
func NewDockerRuntime(options Options) (Interface, error) {
	var memoryBytes int64
	if options.MemoryLimit != "" {
		parsed, err := units.RAMInBytes(options.MemoryLimit)
		if err != nil {
			return nil, fmt.Errorf("parse task memory limit %q: %v", options.MemoryLimit, err)
		}
		memoryBytes = parsed
	}
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if options.SocketPath != "" {
		clientOpts = append(clientOpts, client.WithHost(dockerHost(options.SocketPath)))
	}
	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, errors.NewRuntimeUnavailable(fmt.Sprintf("create docker client: %v", err))
	}
	return &dockerRuntime{
		cli:         cli,
		memoryBytes: memoryBytes,
		cpuQuota:    options.CpuQuota,
		allowed:     options.AllowedImages,
	}, nil
}

func (r *dockerRuntime) CreateOneoff(ctx context.Context, spec *ContainerSpec) (string, error) {
	return r.create(ctx, spec, true)
}

func (r *dockerRuntime) CreateLongLived(ctx context.Context, spec *ContainerSpec) (string, error) {
	return r.create(ctx, spec, false)
}

func (r *dockerRuntime) create(ctx context.Context, spec *ContainerSpec, oneoff bool) (string, error) {
	if !imageAllowed(r.allowed, spec.Image) {
		return "", errors.NewImageNotAllowed(spec.Image)
	}
	config, hostConfig := r.buildContainerConfig(spec, oneoff)
	name := containerName(spec, oneoff)
	created, err := r.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		return "", errors.NewContainerCreateError(fmt.Sprintf("create container %s: %v", name, err))
	}
	if err := r.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		if removeErr := r.cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true}); removeErr != nil && !errdefs.IsNotFound(removeErr) {
			klog.Warningf("Failed to remove container %s after failed start, error: %v", name, removeErr)
		}
		return "", errors.NewContainerCreateError(fmt.Sprintf("start container %s: %v", name, err))
	}
	klog.Infof("Created container %s (%s) with image %s on gpu %d", name, shortId(created.ID), spec.Image, spec.GpuId)
	return created.ID, nil
}

func (r *dockerRuntime) buildContainerConfig(spec *ContainerSpec, oneoff bool) (*container.Config, *container.HostConfig) {
	env := make([]string, 0, len(spec.Env)+2)
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	if oneoff {
		env = append(env, "TASK_ID="+spec.TaskId)
	} else {
		env = append(env, "SESSION_ID="+spec.SessionId)
	}

	labels := map[string]string{
		LabelManaged: "true",
		LabelGpuId:   strconv.Itoa(spec.GpuId),
	}
	if spec.TaskId != "" {
		labels[LabelTaskId] = spec.TaskId
	}
	if spec.SessionId != "" {
		labels[LabelSessionId] = spec.SessionId
	}
	if spec.ModelId != "" {
		labels[LabelModelId] = spec.ModelId
	}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	hostConfig := &container.HostConfig{
		AutoRemove: oneoff,
		Resources: container.Resources{
			Memory:   r.memoryBytes,
			CPUQuota: r.cpuQuota,
		},
	}
	if spec.GpuId >= 0 {
		hostConfig.Resources.DeviceRequests = []container.DeviceRequest{{
			Driver:       "nvidia",
			DeviceIDs:    []string{strconv.Itoa(spec.GpuId)},
			Capabilities: [][]string{{"gpu"}},
		}}
	}
	if spec.ModelHostPath != "" {
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   spec.ModelHostPath,
			Target:   ModelMountPath,
			ReadOnly: true,
		})
		env = append(env, "MODEL_PATH="+ModelMountPath)
	}

	return &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Command,
		Env:    env,
		Labels: labels,
	}, hostConfig
}

func (r *dockerRuntime) Exec(ctx context.Context, containerId string, command []string, env map[string]string) (LineStream, error) {
	var envList []string
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}
	exec, err := r.cli.ContainerExecCreate(ctx, containerId, container.ExecOptions{
		Cmd:          command,
		Env:          envList,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, errors.NewRuntimeUnavailable(fmt.Sprintf("create exec in container %s: %v", shortId(containerId), err))
	}
	// Attach starts the exec process and hijacks the connection.
	resp, err := r.cli.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, errors.NewRuntimeUnavailable(fmt.Sprintf("attach exec in container %s: %v", shortId(containerId), err))
	}
	execId := exec.ID
	stream := newLineStream(resp.Close, func(ctx context.Context) (int, error) {
		inspect, err := r.cli.ContainerExecInspect(ctx, execId)
		if err != nil {
			return -1, errors.NewRuntimeUnavailable(fmt.Sprintf("inspect exec in container %s: %v", shortId(containerId), err))
		}
		return inspect.ExitCode, nil
	})
	go stream.pump(resp.Reader)
	return stream, nil
}

func (r *dockerRuntime) ExecTty(ctx context.Context, containerId string, command []string) (TtyStream, error) {
	exec, err := r.cli.ContainerExecCreate(ctx, containerId, container.ExecOptions{
		Cmd:          command,
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, errors.NewRuntimeUnavailable(fmt.Sprintf("create tty exec in container %s: %v", shortId(containerId), err))
	}
	resp, err := r.cli.ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{Tty: true})
	if err != nil {
		return nil, errors.NewRuntimeUnavailable(fmt.Sprintf("attach tty exec in container %s: %v", shortId(containerId), err))
	}
	return &ttySession{
		cli:    r.cli,
		execId: exec.ID,
		conn:   resp.Conn,
		reader: resp.Reader,
	}, nil
}

func (r *dockerRuntime) StreamLogs(ctx context.Context, containerId string) (LineStream, error) {
	// The stream is detached from ctx: a dropped client request must not
	// tear down a running worker. Close is the only way to stop it early.
	streamCtx, cancel := context.WithCancel(context.Background())
	rc, err := r.cli.ContainerLogs(streamCtx, containerId, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		cancel()
		return nil, errors.NewRuntimeUnavailable(fmt.Sprintf("stream logs of container %s: %v", shortId(containerId), err))
	}
	waitCh, waitErrCh := r.cli.ContainerWait(streamCtx, containerId, container.WaitConditionNotRunning)
	stream := newLineStream(func() {
		cancel()
		rc.Close()
	}, func(ctx context.Context) (int, error) {
		select {
		case result := <-waitCh:
			if result.Error != nil {
				return -1, errors.NewRuntimeUnavailable(result.Error.Message)
			}
			return int(result.StatusCode), nil
		case err := <-waitErrCh:
			return -1, errors.NewRuntimeUnavailable(fmt.Sprintf("wait for container %s: %v", shortId(containerId), err))
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	})
	go stream.pump(rc)
	return stream, nil
}

func (r *dockerRuntime) Stop(ctx context.Context, containerId string, timeout time.Duration) error {
	options := container.StopOptions{}
	if timeout > 0 {
		seconds := int(timeout.Seconds())
		options.Timeout = &seconds
	}
	if err := r.cli.ContainerStop(ctx, containerId, options); err != nil && !errdefs.IsNotFound(err) {
		return errors.NewRuntimeUnavailable(fmt.Sprintf("stop container %s: %v", shortId(containerId), err))
	}
	return nil
}

func (r *dockerRuntime) Remove(ctx context.Context, containerId string) error {
	err := r.cli.ContainerRemove(ctx, containerId, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return errors.NewRuntimeUnavailable(fmt.Sprintf("remove container %s: %v", shortId(containerId), err))
	}
	return nil
}

func (r *dockerRuntime) CleanupManaged(ctx context.Context) (int, error) {
	list, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelManaged+"=true")),
	})
	if err != nil {
		return 0, errors.NewRuntimeUnavailable(fmt.Sprintf("list managed containers: %v", err))
	}
	removed := 0
	for _, item := range list {
		if err := r.cli.ContainerRemove(ctx, item.ID, container.RemoveOptions{Force: true}); err != nil {
			if errdefs.IsNotFound(err) {
				continue
			}
			klog.Warningf("Failed to remove managed container %s, error: %v", shortId(item.ID), err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (r *dockerRuntime) Ping(ctx context.Context) error {
	if _, err := r.cli.Ping(ctx); err != nil {
		return errors.NewRuntimeUnavailable(fmt.Sprintf("ping docker daemon: %v", err))
	}
	return nil
}

func (r *dockerRuntime) Close() error {
	return r.cli.Close()
}

// imageAllowed matches image against the allow list by familiar name. An
// entry without a tag covers every tag of that image; an entry with a tag
// requires an exact tag match.
func imageAllowed(allowed []string, image string) bool {
	if len(allowed) == 0 {
		return true
	}
	named, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return false
	}
	name := reference.FamiliarName(named)
	for _, entry := range allowed {
		allowRef, err := reference.ParseNormalizedNamed(entry)
		if err != nil {
			klog.Warningf("Skip malformed image %q in allow list", entry)
			continue
		}
		if reference.FamiliarName(allowRef) != name {
			continue
		}
		allowTagged, ok := allowRef.(reference.Tagged)
		if !ok {
			return true
		}
		if imageTagged, ok := named.(reference.Tagged); ok && imageTagged.Tag() == allowTagged.Tag() {
			return true
		}
	}
	return false
}

func containerName(spec *ContainerSpec, oneoff bool) string {
	if oneoff {
		return "gpu-task-" + shortId(spec.TaskId)
	}
	return "gpu-session-" + shortId(spec.SessionId)
}

func shortId(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func dockerHost(socketPath string) string {
	if strings.Contains(socketPath, "://") {
		return socketPath
	}
	return "unix://" + socketPath
}

type lineStream struct {
	lines chan LogLine
	stop  chan struct{}
	once  sync.Once
	halt  func()
	exit  func(ctx context.Context) (int, error)
}

func newLineStream(halt func(), exit func(ctx context.Context) (int, error)) *lineStream {
	return &lineStream{
		lines: make(chan LogLine, 64),
		stop:  make(chan struct{}),
		halt:  halt,
		exit:  exit,
	}
}

func (s *lineStream) Lines() <-chan LogLine { return s.lines }

func (s *lineStream) ExitCode(ctx context.Context) (int, error) { return s.exit(ctx) }

func (s *lineStream) Close() {
	s.once.Do(func() {
		close(s.stop)
		s.halt()
	})
}

// pump demultiplexes the raw docker stream into lines and closes the lines
// channel once the source is drained. It returns only after both scanners
// finished, so Close must release the source to unblock it.
func (s *lineStream) pump(src io.Reader) {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	var wg sync.WaitGroup
	wg.Add(2)
	go s.scan(outR, false, &wg)
	go s.scan(errR, true, &wg)
	_, err := stdcopy.StdCopy(outW, errW, src)
	outW.CloseWithError(err)
	errW.CloseWithError(err)
	wg.Wait()
	close(s.lines)
}

func (s *lineStream) scan(r io.Reader, stderr bool, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		select {
		case s.lines <- LogLine{Text: scanner.Text(), Stderr: stderr}:
		case <-s.stop:
			// Keep draining so the demultiplexer never blocks on a
			// pipe nobody reads.
			io.Copy(io.Discard, r)
			return
		}
	}
}

type ttySession struct {
	cli    *client.Client
	execId string
	conn   net.Conn
	reader *bufio.Reader
}

func (t *ttySession) Read(p []byte) (int, error)  { return t.reader.Read(p) }
func (t *ttySession) Write(p []byte) (int, error) { return t.conn.Write(p) }
func (t *ttySession) Close() error                { return t.conn.Close() }

func (t *ttySession) Resize(ctx context.Context, height, width uint) error {
	return t.cli.ContainerExecResize(ctx, t.execId, container.ResizeOptions{Height: height, Width: width})
}
