/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

func init() {
	// Environment variables are authoritative; the YAML file only supplies
	// deployment defaults.
	viper.AutomaticEnv()
}

func SetValue(key, value string) {
	viper.Set(key, value)
}

func LoadConfig(path string) error {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	return viper.ReadInConfig()
}

func getString(key, defaultValue string) string {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetString(key)
}

func getBool(key string, defaultValue bool) bool {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetBool(key)
}

func getInt(key string, defaultValue int) int {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetInt(key)
}

func getStrings(key string) []string {
	val := viper.GetString(key)
	return removeBlank(strings.Split(val, ","))
}

func removeBlank(slice []string) []string {
	var result []string
	for _, val := range slice {
		if trim := strings.TrimSpace(val); trim != "" {
			result = append(result, trim)
		}
	}
	return result
}

func getFromFile(configPath, item string) string {
	path := getString(configPath, "")
	data, err := os.ReadFile(filepath.Join(path, item))
	if err != nil {
		return ""
	}
	key := string(data)
	return strings.TrimRight(key, "\r\n")
}

func GetServerPort() int {
	return getInt(serverPort, 8001)
}

func GetCorsOrigins() []string {
	return getStrings(corsOrigins)
}

func GetGpuDeviceIds() []int {
	var ids []int
	for _, val := range getStrings(gpuDeviceIds) {
		id, err := strconv.Atoi(val)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// GetGpuDeviceDifficulty parses GPU_DEVICE_DIFFICULTY ("0:low,1:high") into a
// device-id to difficulty-class map. Malformed pairs are dropped.
func GetGpuDeviceDifficulty() map[int]string {
	result := map[int]string{}
	for _, pair := range getStrings(gpuDeviceDifficulty) {
		rawId, class, found := strings.Cut(pair, ":")
		if !found {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(rawId))
		if err != nil {
			continue
		}
		result[id] = strings.TrimSpace(class)
	}
	return result
}

func GetGpuMetricsRefreshInterval() int {
	return getInt(gpuMetricsRefreshInterval, 5)
}

func GetSessionIdleTimeoutSecond() int {
	return getInt(sessionIdleTimeoutSeconds, 300)
}

func GetSessionMaxLifetimeSecond() int {
	return getInt(sessionMaxLifetimeSeconds, 3600)
}

func GetSessionQueueMaxSize() int {
	return getInt(sessionQueueMaxSize, 5)
}

func GetMonitorIntervalSecond() int {
	return getInt(monitorInterval, 30)
}

func GetDefaultTaskTimeoutSecond() int {
	return getInt(defaultTaskTimeout, 300)
}

func GetMaxTaskTimeoutSecond() int {
	return getInt(maxTaskTimeout, 1800)
}

func GetTaskConfigDir() string {
	return getString(taskConfigDir, "config")
}

func GetTaskMemoryLimit() string {
	return getString(taskMemoryLimit, "16g")
}

func GetTaskCpuQuota() int64 {
	return int64(getInt(taskCpuQuota, 100000))
}

func GetModelCacheDir() string {
	return getString(modelCacheDir, "/var/lib/gpu-server/models")
}

func IsAutoFetchModels() bool {
	return getBool(autoFetchModels, true)
}

func GetFileServiceUrl() string {
	return strings.TrimRight(getString(fileServiceUrl, ""), "/")
}

func GetFileServiceInternalKey() string {
	if key := getString(fileServiceInternalKey, ""); len(key) > 0 {
		return key
	}
	return getFromFile(secretDir, "file-service-internal-key")
}

func GetInternalApiKey() string {
	if key := getString(internalApiKey, ""); len(key) > 0 {
		return key
	}
	return getFromFile(secretDir, "internal-api-key")
}

func GetDockerSocketPath() string {
	return getString(dockerSocketPath, "")
}

func GetAllowedDockerImages() []string {
	return getStrings(allowedDockerImages)
}
