/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package task_handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/catalog"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/gpu"
	jsonutils "github.com/AMD-AIG-AIMA/gpu-server/pkg/json"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/models"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/pipeline"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/runtime"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/sessions"
)

type fakeStream struct {
	lines chan runtime.LogLine
}

// newFinishedStream is a worker stream whose task completes immediately.
func newFinishedStream() *fakeStream {
	source := &fakeStream{lines: make(chan runtime.LogLine, 1)}
	source.lines <- runtime.LogLine{Text: `{"event":"finish","status":"completed"}`}
	return source
}

func (f *fakeStream) Lines() <-chan runtime.LogLine { return f.lines }

func (f *fakeStream) ExitCode(context.Context) (int, error) { return 0, nil }

func (f *fakeStream) Close() {}

type fakeTty struct {
	output chan []byte

	mu      sync.Mutex
	written []byte
	resizes [][2]uint

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTty(banner string) *fakeTty {
	tty := &fakeTty{output: make(chan []byte, 4), closed: make(chan struct{})}
	if banner != "" {
		tty.output <- []byte(banner)
	}
	return tty
}

func (f *fakeTty) Read(p []byte) (int, error) {
	select {
	case chunk := <-f.output:
		return copy(p, chunk), nil
	case <-f.closed:
		return 0, io.EOF
	}
}

func (f *fakeTty) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *fakeTty) Resize(_ context.Context, height, width uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, [2]uint{height, width})
	return nil
}

func (f *fakeTty) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTty) writtenBytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte{}, f.written...)
}

func (f *fakeTty) resizeCalls() [][2]uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]uint{}, f.resizes...)
}

type fakeRuntime struct {
	runtime.Interface

	tty    *fakeTty
	ttyErr error

	mu      sync.Mutex
	nextId  int
	ttyRuns [][]string
	stopped []string
	removed []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{}
}

func (f *fakeRuntime) CreateOneoff(ctx context.Context, spec *runtime.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextId++
	return fmt.Sprintf("task-container-%d", f.nextId), nil
}

func (f *fakeRuntime) CreateLongLived(ctx context.Context, spec *runtime.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextId++
	return fmt.Sprintf("session-container-%d", f.nextId), nil
}

func (f *fakeRuntime) StreamLogs(ctx context.Context, containerId string) (runtime.LineStream, error) {
	return newFinishedStream(), nil
}

func (f *fakeRuntime) Exec(ctx context.Context, containerId string, command []string, env map[string]string) (runtime.LineStream, error) {
	return newFinishedStream(), nil
}

func (f *fakeRuntime) ExecTty(ctx context.Context, containerId string, command []string) (runtime.TtyStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ttyErr != nil {
		return nil, f.ttyErr
	}
	f.ttyRuns = append(f.ttyRuns, command)
	return f.tty, nil
}

func (f *fakeRuntime) Stop(ctx context.Context, containerId string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, containerId)
	return nil
}

func (f *fakeRuntime) Remove(ctx context.Context, containerId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, containerId)
	return nil
}

func (f *fakeRuntime) ttyCommands() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string{}, f.ttyRuns...)
}

func (f *fakeRuntime) removedIds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.removed...)
}

// writeCatalog materializes the catalog documents for the handler tests.
// loading-test is a one-off, chat-llama runs in a session; both models are
// pre-provisioned at modelDir.
func writeCatalog(t *testing.T, modelDir string) string {
	t.Helper()
	dir := t.TempDir()

	definitions := `
loading-test:
  task_type: oneoff
  task_difficulty: low
  timeout_seconds: 60
  model_id: stress-model
chat-llama:
  task_type: session
  task_difficulty: low
  timeout_seconds: 60
  model_id: llama-7b
`
	actions := `
stress-model:
  docker_image: rocm/pytorch:latest
  command: ["python", "stress.py"]
llama-7b:
  docker_image: vllm/vllm-openai:v0.8.3
  command: ["python", "serve.py"]
`
	paths := fmt.Sprintf(`
stress-model:
  path: %s
llama-7b:
  path: %s
`, modelDir, modelDir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "task_definitions.yaml"), []byte(definitions), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "task_actions.yaml"), []byte(actions), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model_paths.yaml"), []byte(paths), 0o644))
	return dir
}

type testHandler struct {
	handler   *Handler
	rt        *fakeRuntime
	allocator *gpu.Allocator
	registry  *sessions.Registry
	pipeline  *pipeline.Pipeline
}

func newTestHandler(t *testing.T, gpus int) *testHandler {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cat := catalog.NewCatalog(writeCatalog(t, t.TempDir()), 300, 1800)
	cache, err := models.NewCache(t.TempDir(), false, nil)
	require.NoError(t, err)

	ids := make([]int, 0, gpus)
	classes := map[int]string{}
	for i := 0; i < gpus; i++ {
		ids = append(ids, i)
		classes[i] = catalog.DifficultyLow
	}
	allocator := gpu.NewAllocator(ids, classes)
	rt := newFakeRuntime()
	registry := sessions.NewRegistry(rt, allocator, 5)
	p := pipeline.NewPipeline(cat, cache, allocator, registry, rt)

	th := &testHandler{
		handler:   NewHandler(p, registry, allocator, rt),
		rt:        rt,
		allocator: allocator,
		registry:  registry,
		pipeline:  p,
	}
	t.Cleanup(registry.Shutdown)
	return th
}

// bootSession drives a session-creating task through the SSE endpoint and
// waits for the session to settle back to waiting.
func (th *testHandler) bootSession(t *testing.T) sessions.View {
	t.Helper()
	rsp, c := postJSON(t, "/api/tasks/predefined", &PreDefinedTaskRequest{
		TaskName:      "chat-llama",
		CreateSession: true,
	})
	th.handler.RunPredefinedTask(c)
	require.Equal(t, http.StatusOK, rsp.Code)

	var view sessions.View
	waitCondition(t, "session never became waiting", func() bool {
		views := th.registry.List()
		if len(views) != 1 || views[0].Status != string(sessions.StatusWaiting) {
			return false
		}
		view = views[0]
		return true
	})
	return view
}

func postJSON(t *testing.T, target string, body interface{}) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	rsp := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rsp)
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(jsonutils.MarshalSilently(body))
	}
	c.Request = httptest.NewRequest(http.MethodPost, target, reader)
	return rsp, c
}

func postRaw(t *testing.T, target, body string) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	rsp := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rsp)
	c.Request = httptest.NewRequest(http.MethodPost, target, bytes.NewBufferString(body))
	return rsp, c
}

func newRequest(t *testing.T, method, target string) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	rsp := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rsp)
	c.Request = httptest.NewRequest(method, target, nil)
	return rsp, c
}

func getRequest(t *testing.T, target string) (*httptest.ResponseRecorder, *gin.Context) {
	return newRequest(t, http.MethodGet, target)
}

func waitCondition(t *testing.T, message string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(message)
}
