/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package gpu

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/catalog"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/concurrent"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/errors"
)

func newTestAllocator() *Allocator {
	return NewAllocator([]int{3, 0, 2, 1}, map[int]string{
		0: catalog.DifficultyLow,
		1: catalog.DifficultyLow,
		2: catalog.DifficultyHigh,
		3: catalog.DifficultyHigh,
	})
}

func TestLeaseAscendingOrder(t *testing.T) {
	allocator := newTestAllocator()

	first, err := allocator.Lease(catalog.DifficultyLow)
	require.NoError(t, err)
	assert.Equal(t, 0, first)

	second, err := allocator.Lease(catalog.DifficultyLow)
	require.NoError(t, err)
	assert.Equal(t, 1, second)

	_, err = allocator.Lease(catalog.DifficultyLow)
	require.Error(t, err)
	assert.True(t, errors.IsCapacityFull(err))
}

func TestDifficultyIsolation(t *testing.T) {
	allocator := newTestAllocator()

	for i := 0; i < 2; i++ {
		_, err := allocator.Lease(catalog.DifficultyHigh)
		require.NoError(t, err)
	}

	// Both high devices are leased; a high request must not spill to low.
	_, err := allocator.Lease(catalog.DifficultyHigh)
	require.Error(t, err)
	assert.True(t, errors.IsCapacityFull(err))

	id, err := allocator.Lease(catalog.DifficultyLow)
	require.NoError(t, err)
	assert.Equal(t, 0, id)
}

func TestReleaseIdempotent(t *testing.T) {
	allocator := newTestAllocator()

	id, err := allocator.Lease(catalog.DifficultyLow)
	require.NoError(t, err)

	allocator.Release(id)
	allocator.Release(id)
	allocator.Release(99)

	again, err := allocator.Lease(catalog.DifficultyLow)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}

func TestLeaseForRecordsOwner(t *testing.T) {
	allocator := newTestAllocator()

	id, err := allocator.LeaseFor(catalog.DifficultyHigh, "session-abc")
	require.NoError(t, err)

	var status *DeviceStatus
	for _, s := range allocator.Snapshot() {
		if s.Id == id {
			status = &s
			break
		}
	}
	require.NotNil(t, status)
	assert.False(t, status.Available)
	assert.Equal(t, "session-abc", status.CurrentSessionId)

	allocator.Release(id)
	for _, s := range allocator.Snapshot() {
		if s.Id == id {
			assert.True(t, s.Available)
			assert.Equal(t, "", s.CurrentSessionId)
		}
	}
}

func TestApplySamples(t *testing.T) {
	allocator := newTestAllocator()

	allocator.ApplySamples([]Sample{
		{Id: 0, Name: "NVIDIA A100", Metrics: Metrics{MemoryUsedMiB: 1024, MemoryTotalMiB: 40960, TemperatureC: 41, UtilizationPct: 17}},
		{Id: 99, Name: "ghost"},
	})

	snapshot := allocator.Snapshot()
	assert.Equal(t, 4, len(snapshot))
	assert.Equal(t, "NVIDIA A100", snapshot[0].Name)
	assert.Equal(t, 41, snapshot[0].Metrics.TemperatureC)
	assert.Equal(t, "", snapshot[1].Name)
}

func TestConcurrentLeaseRelease(t *testing.T) {
	allocator := newTestAllocator()

	var mu sync.Mutex
	held := map[int]bool{}

	_, err := concurrent.Exec(32, func() error {
		for i := 0; i < 50; i++ {
			id, err := allocator.Lease(catalog.DifficultyLow)
			if err != nil {
				if errors.IsCapacityFull(err) {
					continue
				}
				return err
			}
			mu.Lock()
			if held[id] {
				mu.Unlock()
				return fmt.Errorf("gpu %d leased twice", id)
			}
			held[id] = true
			mu.Unlock()

			mu.Lock()
			held[id] = false
			mu.Unlock()
			allocator.Release(id)
		}
		return nil
	})
	require.NoError(t, err)

	for _, status := range allocator.Snapshot() {
		assert.True(t, status.Available)
	}
}

func TestParseSmiOutput(t *testing.T) {
	out := []byte("0, NVIDIA A100, 2048, 40960, 38, 12\n" +
		"\n" +
		"1, NVIDIA A100, 0, 40960, 30, 0\n")

	samples := parseSmiOutput(out)
	require.Equal(t, 2, len(samples))
	assert.Equal(t, 0, samples[0].Id)
	assert.Equal(t, "NVIDIA A100", samples[0].Name)
	assert.Equal(t, 2048, samples[0].MemoryUsedMiB)
	assert.Equal(t, 40960, samples[0].MemoryTotalMiB)
	assert.Equal(t, 38, samples[0].TemperatureC)
	assert.Equal(t, 12, samples[0].UtilizationPct)
	assert.Equal(t, 1, samples[1].Id)
}

func TestSmiTelemetrySnapshot(t *testing.T) {
	telemetry := &SmiTelemetry{run: func(ctx context.Context, args ...string) ([]byte, error) {
		assert.Equal(t, "nvidia-smi", args[0])
		return []byte("0, NVIDIA A100, 512, 40960, 35, 4\n"), nil
	}}

	samples, err := telemetry.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, len(samples))
	assert.Equal(t, 512, samples[0].MemoryUsedMiB)

	telemetry = &SmiTelemetry{run: func(ctx context.Context, args ...string) ([]byte, error) {
		return nil, fmt.Errorf("exec format error")
	}}
	_, err = telemetry.Snapshot(context.Background())
	require.Error(t, err)
}
