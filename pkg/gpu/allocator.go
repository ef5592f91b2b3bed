/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package gpu

import (
	"sort"
	"sync"

	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/catalog"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/errors"
)

// Metrics is the last telemetry sample seen for a device. It may be stale
// or zero; availability never depends on it.
type Metrics struct {
	MemoryUsedMiB  int `json:"memory_used_mib"`
	MemoryTotalMiB int `json:"memory_total_mib"`
	TemperatureC   int `json:"temperature_c"`
	UtilizationPct int `json:"utilization_pct"`
}

// DeviceStatus is a point-in-time copy of one device, safe to hand out.
type DeviceStatus struct {
	Id               int     `json:"id"`
	Name             string  `json:"name,omitempty"`
	Difficulty       string  `json:"difficulty"`
	Available        bool    `json:"available"`
	CurrentSessionId string  `json:"current_session_id,omitempty"`
	Metrics          Metrics `json:"metrics"`
}

type device struct {
	id         int
	name       string
	difficulty string
	available  bool
	owner      string
	metrics    Metrics
}

// Allocator hands out whole GPU devices by difficulty class. Lease and
// Release share one mutex; telemetry writes take the same lock but only
// touch metrics fields, so a snapshot may carry stale metrics yet never an
// inconsistent available flag.
type Allocator struct {
	mu      sync.Mutex
	devices []*device
}

// NewAllocator builds the fixed device list from GPU_DEVICE_IDS and the
// id-to-class map. Devices without a class default to low.
func NewAllocator(ids []int, classes map[int]string) *Allocator {
	sorted := append([]int{}, ids...)
	sort.Ints(sorted)

	allocator := &Allocator{}
	for _, id := range sorted {
		difficulty, ok := classes[id]
		if !ok || (difficulty != catalog.DifficultyLow && difficulty != catalog.DifficultyHigh) {
			klog.Warningf("gpu %d has no valid difficulty class (%q), defaulting to %s",
				id, difficulty, catalog.DifficultyLow)
			difficulty = catalog.DifficultyLow
		}
		allocator.devices = append(allocator.devices, &device{
			id:         id,
			difficulty: difficulty,
			available:  true,
		})
	}
	klog.Infof("gpu allocator initialized with %d devices", len(allocator.devices))
	return allocator
}

// Lease marks the first available device of the class as leased and returns
// its id. Scan order is ascending id.
func (a *Allocator) Lease(difficulty string) (int, error) {
	return a.LeaseFor(difficulty, "")
}

// LeaseFor is Lease with the owner recorded for snapshots (session id or
// task id).
func (a *Allocator) LeaseFor(difficulty, owner string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, dev := range a.devices {
		if dev.difficulty != difficulty || !dev.available {
			continue
		}
		dev.available = false
		dev.owner = owner
		klog.Infof("leased gpu %d (difficulty=%s, owner=%q)", dev.id, difficulty, owner)
		return dev.id, nil
	}
	return -1, errors.NewCapacityFull(difficulty)
}

// Release marks the device available again. Releasing an unknown or already
// available device is a no-op.
func (a *Allocator) Release(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, dev := range a.devices {
		if dev.id != id {
			continue
		}
		if dev.available {
			return
		}
		dev.available = true
		dev.owner = ""
		klog.Infof("released gpu %d", id)
		return
	}
}

// Snapshot returns a copy of every device's state, ascending id.
func (a *Allocator) Snapshot() []DeviceStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	statuses := make([]DeviceStatus, 0, len(a.devices))
	for _, dev := range a.devices {
		statuses = append(statuses, DeviceStatus{
			Id:               dev.id,
			Name:             dev.name,
			Difficulty:       dev.difficulty,
			Available:        dev.available,
			CurrentSessionId: dev.owner,
			Metrics:          dev.metrics,
		})
	}
	return statuses
}

// ApplySamples merges fresh telemetry into matching devices. Samples for
// unknown ids are dropped.
func (a *Allocator) ApplySamples(samples []Sample) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, sample := range samples {
		for _, dev := range a.devices {
			if dev.id != sample.Id {
				continue
			}
			dev.name = sample.Name
			dev.metrics = sample.Metrics
			break
		}
	}
}
