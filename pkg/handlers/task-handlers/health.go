/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package task_handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/common"
)

const (
	statusRunning   = "running"
	statusHealthy   = "healthy"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

func (h *Handler) Health(c *gin.Context) {
	handle(c, h.health)
}

func (h *Handler) health(_ *gin.Context) (interface{}, error) {
	devices := h.allocator.Snapshot()
	views := h.registry.List()

	gpus := make([]GpuStatus, 0, len(devices))
	available := 0
	for _, dev := range devices {
		if dev.Available {
			available++
		}
		gpus = append(gpus, GpuStatus{
			DeviceId:           dev.Id,
			Name:               dev.Name,
			Difficulty:         dev.Difficulty,
			IsAvailable:        dev.Available,
			MemoryUsedMb:       dev.Metrics.MemoryUsedMiB,
			MemoryTotalMb:      dev.Metrics.MemoryTotalMiB,
			TemperatureCelsius: dev.Metrics.TemperatureC,
			UtilizationPercent: dev.Metrics.UtilizationPct,
			CurrentSessionId:   dev.CurrentSessionId,
		})
	}

	// Session tasks show up as a non-empty current task; oneoffs are counted
	// by the pipeline tracker.
	activeTasks := h.pipeline.ActiveTasks()
	for _, view := range views {
		if view.CurrentTaskId != "" {
			activeTasks++
		}
	}

	status := statusHealthy
	switch {
	case len(devices) == 0 && len(views) == 0:
		status = statusUnhealthy
	case len(devices) > 0 && available == 0:
		status = statusDegraded
	}

	return &HealthResponse{
		Status:         status,
		Service:        common.ServiceName,
		Version:        common.Version,
		Gpus:           gpus,
		ActiveSessions: len(views),
		ActiveTasks:    activeTasks,
	}, nil
}

func (h *Handler) ServiceInfo(c *gin.Context) {
	handle(c, h.serviceInfo)
}

func (h *Handler) serviceInfo(_ *gin.Context) (interface{}, error) {
	return &ServiceInfoResponse{
		Service: common.ServiceName,
		Version: common.Version,
		Status:  statusRunning,
	}, nil
}
