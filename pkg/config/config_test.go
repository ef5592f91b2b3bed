/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"gotest.tools/assert"
)

func load() error {
	path := "./test.yaml"
	if err := LoadConfig(path); err != nil {
		return err
	}
	return nil
}

func TestConfig(t *testing.T) {
	err := load()
	assert.NilError(t, err)

	assert.Equal(t, GetServerPort(), 9001)
	assert.Equal(t, GetSessionQueueMaxSize(), 3)
	assert.Equal(t, IsAutoFetchModels(), false)
	assert.Equal(t, GetFileServiceUrl(), "http://file-service:8000")
	assert.Equal(t, GetTaskMemoryLimit(), "8g")
	assert.Equal(t, slices.Equal(GetGpuDeviceIds(), []int{0, 1}), true)
	assert.Equal(t, slices.Equal(GetAllowedDockerImages(),
		[]string{"gpu-worker:latest", "vllm/vllm-openai:v0.8.3"}), true)
}

func TestDefaults(t *testing.T) {
	assert.Equal(t, GetSessionIdleTimeoutSecond(), 300)
	assert.Equal(t, GetSessionMaxLifetimeSecond(), 3600)
	assert.Equal(t, GetMonitorIntervalSecond(), 30)
	assert.Equal(t, GetDefaultTaskTimeoutSecond(), 300)
	assert.Equal(t, GetMaxTaskTimeoutSecond(), 1800)
	assert.Equal(t, GetGpuMetricsRefreshInterval(), 5)
	assert.Equal(t, GetTaskCpuQuota(), int64(100000))
}

func TestGpuDeviceDifficulty(t *testing.T) {
	SetValue("GPU_DEVICE_DIFFICULTY", "0:low, 1:high,bogus,x:low")

	classes := GetGpuDeviceDifficulty()
	assert.Equal(t, len(classes), 2)
	assert.Equal(t, classes[0], "low")
	assert.Equal(t, classes[1], "high")
}

func TestSecretFallsBackToFile(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "internal-api-key"), []byte("s3cret\n"), 0o600)
	assert.NilError(t, err)

	SetValue("SECRET_DIR", dir)
	assert.Equal(t, GetInternalApiKey(), "s3cret")

	SetValue("INTERNAL_API_KEY", "from-env")
	assert.Equal(t, GetInternalApiKey(), "from-env")
}
