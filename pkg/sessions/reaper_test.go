/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/channel"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/stream"
)

func newTestReaper(registry *Registry, idleTimeout, maxLifetime time.Duration) (*Reaper, *testingclock.FakeClock) {
	fakeClock := testingclock.NewFakeClock(time.Now())
	return &Reaper{
		registry:    registry,
		interval:    time.Minute,
		idleTimeout: idleTimeout,
		maxLifetime: maxLifetime,
		clock:       fakeClock,
		tomb:        channel.NewTomb(),
	}, fakeClock
}

func TestReapIdleSession(t *testing.T) {
	rt := newFakeRuntime()
	registry, allocator := newTestRegistry(rt, 1, 5)
	reaper, fakeClock := newTestReaper(registry, 30*time.Minute, 4*time.Hour)

	session, _, err := registry.FindOrCreate(context.Background(), &Spec{
		Resolved:      sessionTask("llama-7b"),
		CreateSession: true,
	})
	require.NoError(t, err)

	fakeClock.SetTime(time.Now().Add(31 * time.Minute))
	reaper.reap()

	assert.Nil(t, registry.Get(session.Id))
	assert.True(t, gpuAvailable(allocator, 0))
	assert.Contains(t, rt.removedIds(), "container-1")
}

func TestReapLeavesActiveSession(t *testing.T) {
	rt := newFakeRuntime()
	registry, _ := newTestRegistry(rt, 1, 5)
	reaper, fakeClock := newTestReaper(registry, 30*time.Minute, 4*time.Hour)

	session, _, err := registry.FindOrCreate(context.Background(), &Spec{
		Resolved:      sessionTask("llama-7b"),
		CreateSession: true,
	})
	require.NoError(t, err)

	fakeClock.SetTime(time.Now().Add(29 * time.Minute))
	reaper.reap()

	assert.NotNil(t, registry.Get(session.Id))
	assert.Equal(t, StatusWaiting, session.Status())
}

func TestReapSkipsWorkingSession(t *testing.T) {
	rt := newFakeRuntime()
	rt.holdExec = true
	registry, _ := newTestRegistry(rt, 1, 5)
	reaper, fakeClock := newTestReaper(registry, 30*time.Minute, 4*time.Hour)

	session, _, err := registry.FindOrCreate(context.Background(), &Spec{
		Resolved:      sessionTask("llama-7b"),
		CreateSession: true,
	})
	require.NoError(t, err)

	request, sink := newRequest("task-1", "run")
	require.NoError(t, registry.Enqueue(session, request))
	waitStatus(t, session, StatusWorking)

	// Idle timeout does not apply while a task is in flight.
	fakeClock.SetTime(time.Now().Add(31 * time.Minute))
	reaper.reap()
	assert.NotNil(t, registry.Get(session.Id))

	rt.waitExecs(t, 1)
	rt.stream(0).finish()
	assert.Equal(t, stream.StatusCompleted, waitFinish(t, sink).Status)
}

func TestReapMaxLifetime(t *testing.T) {
	rt := newFakeRuntime()
	rt.holdExec = true
	registry, allocator := newTestRegistry(rt, 1, 5)
	reaper, fakeClock := newTestReaper(registry, 30*time.Minute, 4*time.Hour)

	session, _, err := registry.FindOrCreate(context.Background(), &Spec{
		Resolved:      sessionTask("llama-7b"),
		CreateSession: true,
	})
	require.NoError(t, err)

	request, sink := newRequest("task-1", "run")
	require.NoError(t, registry.Enqueue(session, request))
	waitStatus(t, session, StatusWorking)

	// The lifetime budget fires even mid-task.
	fakeClock.SetTime(time.Now().Add(4*time.Hour + time.Minute))
	reaper.reap()

	assert.Equal(t, stream.StatusCancelled, waitFinish(t, sink).Status)
	assert.Nil(t, registry.Get(session.Id))
	assert.True(t, gpuAvailable(allocator, 0))
}

func TestReaperStartStop(t *testing.T) {
	rt := newFakeRuntime()
	registry, _ := newTestRegistry(rt, 1, 5)

	reaper := NewReaper(registry, 10*time.Millisecond, time.Hour, time.Hour)
	reaper.Start()
	time.Sleep(30 * time.Millisecond)
	reaper.Stop()
}
