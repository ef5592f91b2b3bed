/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package config

// Configuration keys. Every key is resolvable from the environment with the
// same name; a YAML config file passed via -config provides overridable
// defaults for deployments that prefer files over env.
const (
	// server
	serverPort  = "SERVER_PORT"
	corsOrigins = "CORS_ORIGINS"
	secretDir   = "SECRET_DIR"

	// gpu
	gpuDeviceIds              = "GPU_DEVICE_IDS"
	gpuDeviceDifficulty       = "GPU_DEVICE_DIFFICULTY"
	gpuMetricsRefreshInterval = "GPU_METRICS_REFRESH_INTERVAL"

	// sessions
	sessionIdleTimeoutSeconds = "SESSION_IDLE_TIMEOUT_SECONDS"
	sessionMaxLifetimeSeconds = "SESSION_MAX_LIFETIME_SECONDS"
	sessionQueueMaxSize       = "SESSION_QUEUE_MAX_SIZE"
	monitorInterval           = "MONITOR_INTERVAL"

	// tasks
	defaultTaskTimeout = "DEFAULT_TASK_TIMEOUT"
	maxTaskTimeout     = "MAX_TASK_TIMEOUT"
	taskConfigDir      = "TASK_CONFIG_DIR"
	taskMemoryLimit    = "TASK_MEMORY_LIMIT"
	taskCpuQuota       = "TASK_CPU_QUOTA"

	// models
	modelCacheDir          = "MODEL_CACHE_DIR"
	autoFetchModels        = "AUTO_FETCH_MODELS"
	fileServiceUrl         = "FILE_SERVICE_URL"
	fileServiceInternalKey = "FILE_SERVICE_INTERNAL_KEY"

	// auth
	internalApiKey = "INTERNAL_API_KEY"

	// docker
	dockerSocketPath    = "DOCKER_SOCKET_PATH"
	allowedDockerImages = "ALLOWED_DOCKER_IMAGES"
)
