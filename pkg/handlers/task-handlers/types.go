/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package task_handlers

import (
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/sessions"
)

// PreDefinedTaskRequest is the body of POST /api/tasks/predefined. task_name
// is required; everything else overrides the catalog definition.
type PreDefinedTaskRequest struct {
	TaskName       string                 `json:"task_name"`
	TaskDifficulty string                 `json:"task_difficulty,omitempty"`
	TimeoutSeconds int                    `json:"timeout_seconds,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	SessionId      string                 `json:"session_id,omitempty"`
	CreateSession  bool                   `json:"create_session,omitempty"`
}

// CustomTaskRequest sketches the future user-supplied task surface. The
// endpoint behind it answers 501 until the sandboxing story is settled.
type CustomTaskRequest struct {
	DockerImage string            `json:"docker_image,omitempty"`
	Command     []string          `json:"command,omitempty"`
	EnvVars     map[string]string `json:"env_vars,omitempty"`
}

type ListSessionResponse struct {
	Sessions []sessions.View `json:"sessions"`
	Total    int             `json:"total"`
}

type KillSessionResponse struct {
	Success   bool   `json:"success"`
	SessionId string `json:"session_id"`
	Message   string `json:"message"`
}

type KeepaliveResponse struct {
	Success      bool   `json:"success"`
	SessionId    string `json:"session_id"`
	Message      string `json:"message"`
	LastActivity string `json:"last_activity"`
}

// GpuStatus is the wire shape of one device inside the health response.
type GpuStatus struct {
	DeviceId           int    `json:"device_id"`
	Name               string `json:"name,omitempty"`
	Difficulty         string `json:"difficulty"`
	IsAvailable        bool   `json:"is_available"`
	MemoryUsedMb       int    `json:"memory_used_mb"`
	MemoryTotalMb      int    `json:"memory_total_mb"`
	TemperatureCelsius int    `json:"temperature_celsius"`
	UtilizationPercent int    `json:"utilization_percent"`
	CurrentSessionId   string `json:"current_session_id,omitempty"`
}

type HealthResponse struct {
	Status         string      `json:"status"`
	Service        string      `json:"service"`
	Version        string      `json:"version"`
	Gpus           []GpuStatus `json:"gpus"`
	ActiveSessions int         `json:"active_sessions"`
	ActiveTasks    int         `json:"active_tasks"`
}

type ServiceInfoResponse struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Status  string `json:"status"`
}
