/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package models

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/errors"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/metrics"
)

const tmpPrefix = ".tmp-"

// Cache materializes model directories under baseDir and returns their host
// paths. Fetches for the same model id are single-flight; fetches for
// different ids proceed in parallel.
type Cache struct {
	baseDir   string
	autoFetch bool
	fetcher   Fetcher

	group singleflight.Group

	mu       sync.Mutex
	registry map[string]string
}

func NewCache(baseDir string, autoFetch bool, fetcher Fetcher) (*Cache, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, err
	}
	cache := &Cache{
		baseDir:   baseDir,
		autoFetch: autoFetch,
		fetcher:   fetcher,
		registry:  map[string]string{},
	}
	cache.scan()
	return cache, nil
}

// scan restores registry entries for models already on disk and sweeps
// temp directories left behind by an interrupted fetch.
func (c *Cache) scan() {
	entries, err := os.ReadDir(c.baseDir)
	if err != nil {
		klog.Warningf("model cache scan failed: %v", err)
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, tmpPrefix) {
			_ = os.RemoveAll(filepath.Join(c.baseDir, name))
			continue
		}
		c.registry[name] = filepath.Join(c.baseDir, name)
	}
	if len(c.registry) > 0 {
		klog.Infof("model cache restored %d entries from %s", len(c.registry), c.baseDir)
	}
}

// Ensure returns the host path of the model, fetching it when absent.
// A miss with auto-fetch disabled is ModelNotCached.
func (c *Cache) Ensure(ctx context.Context, modelId string) (string, error) {
	if path, ok := c.lookup(modelId); ok {
		return path, nil
	}
	if !c.autoFetch {
		return "", errors.NewModelNotCached(modelId)
	}
	path, err, _ := c.group.Do(modelId, func() (interface{}, error) {
		// A waiter that queued behind the winning fetch finds it here.
		if path, ok := c.lookup(modelId); ok {
			return path, nil
		}
		return c.fetch(ctx, modelId)
	})
	if err != nil {
		return "", err
	}
	return path.(string), nil
}

// Cached returns a copy of the id to path registry.
func (c *Cache) Cached() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached := make(map[string]string, len(c.registry))
	for id, path := range c.registry {
		cached[id] = path
	}
	return cached
}

// lookup validates the registry against the filesystem. Entries whose bytes
// vanished are dropped so the next Ensure re-fetches; entries materialized
// out-of-band are adopted.
func (c *Cache) lookup(modelId string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if path, ok := c.registry[modelId]; ok {
		if pathUsable(path) {
			return path, true
		}
		klog.Warningf("cached model %s no longer usable at %s, dropping", modelId, path)
		delete(c.registry, modelId)
	}
	target := filepath.Join(c.baseDir, modelId)
	if pathUsable(target) {
		c.registry[modelId] = target
		return target, true
	}
	return "", false
}

// pathUsable accepts a non-empty directory or a non-empty regular file. The
// file form survives caches written by earlier single-file deployments.
func pathUsable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if !info.IsDir() {
		return info.Size() > 0
	}
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) > 0
}

// fetch downloads into a temp directory and atomically renames it into
// place, so a concurrent reader never observes a partial model.
func (c *Cache) fetch(ctx context.Context, modelId string) (string, error) {
	suffix := xxhash.Sum64String(modelId + strconv.FormatInt(time.Now().UnixNano(), 10))
	tmpDir := filepath.Join(c.baseDir, fmt.Sprintf("%s%s-%016x", tmpPrefix, modelId, suffix))
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", errors.NewFetchError(modelId, err.Error())
	}

	started := time.Now()
	if err := c.fetcher.Download(ctx, modelId, tmpDir); err != nil {
		_ = os.RemoveAll(tmpDir)
		return "", err
	}
	metrics.ModelFetchSeconds.Observe(time.Since(started).Seconds())

	target := filepath.Join(c.baseDir, modelId)
	if err := os.Rename(tmpDir, target); err != nil {
		_ = os.RemoveAll(tmpDir)
		return "", errors.NewFetchError(modelId, err.Error())
	}

	c.mu.Lock()
	c.registry[modelId] = target
	c.mu.Unlock()
	klog.Infof("model %s cached at %s", modelId, target)
	return target, nil
}
