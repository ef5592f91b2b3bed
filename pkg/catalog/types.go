/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package catalog

// Task kinds.
const (
	TaskTypeOneoff  = "oneoff"
	TaskTypeSession = "session"
)

// Difficulty classes. Every GPU device belongs to exactly one class and a
// task may only lease a device of its own class.
const (
	DifficultyLow  = "low"
	DifficultyHigh = "high"
)

// TaskDefinition is one entry of task_definitions.yaml, keyed by task name.
type TaskDefinition struct {
	Description    string                 `json:"description,omitempty"`
	TaskType       string                 `json:"task_type,omitempty"`
	TaskDifficulty string                 `json:"task_difficulty,omitempty"`
	TimeoutSeconds int                    `json:"timeout_seconds,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	ModelId        string                 `json:"model_id,omitempty"`
}

// TaskAction is one entry of task_actions.yaml, keyed by model id. It tells
// the runtime what to execute for tasks bound to that model.
type TaskAction struct {
	SourcePath  string            `json:"source_path,omitempty"`
	Dockerfile  string            `json:"dockerfile,omitempty"`
	DockerImage string            `json:"docker_image,omitempty"`
	Command     []string          `json:"command,omitempty"`
	EnvVars     map[string]string `json:"env_vars,omitempty"`
	BuildArgs   map[string]string `json:"build_args,omitempty"`
}

// ModelPath is one entry of model_paths.yaml, keyed by model id. The whole
// document is optional; it pre-provisions host paths for models that are
// already materialized outside the cache.
type ModelPath struct {
	Path        string  `json:"path,omitempty"`
	Description string  `json:"description,omitempty"`
	SizeGb      float64 `json:"size_gb,omitempty"`
}

// Overrides carries the per-request knobs accepted on top of a definition.
// Zero values keep the definition's defaults.
type Overrides struct {
	Difficulty     string
	TimeoutSeconds int
	Metadata       map[string]interface{}
}

// ResolvedTask is the merged execution plan for one request.
type ResolvedTask struct {
	TaskName       string
	TaskType       string
	Difficulty     string
	ModelId        string
	TimeoutSeconds int
	Metadata       map[string]interface{}
	Image          string
	Command        []string
	EnvVars        map[string]string
	// ModelPath is the pre-provisioned host path from model_paths.yaml,
	// empty when the model must come from the cache.
	ModelPath string
}
