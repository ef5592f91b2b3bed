/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package gpu

import (
	"context"
	"time"

	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/catalog"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/channel"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/metrics"
)

// Refresher periodically samples telemetry and publishes it to the
// allocator. It never interferes with leasing: a failed sample is logged
// and skipped.
type Refresher struct {
	allocator *Allocator
	telemetry Telemetry
	interval  time.Duration
	tomb      *channel.Tomb
}

func NewRefresher(allocator *Allocator, telemetry Telemetry, interval time.Duration) *Refresher {
	return &Refresher{
		allocator: allocator,
		telemetry: telemetry,
		interval:  interval,
		tomb:      channel.NewTomb(),
	}
}

func (r *Refresher) Start() {
	go r.loop()
}

func (r *Refresher) Stop() {
	r.tomb.Stop()
}

func (r *Refresher) loop() {
	defer r.tomb.Done()
	r.refresh()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.tomb.Stopping():
			return
		case <-ticker.C:
			r.refresh()
		}
	}
}

// refresh merges a telemetry sample and republishes the availability gauge.
// The gauge tracks leasing, not telemetry, so it is updated even when the
// sample fails.
func (r *Refresher) refresh() {
	samples, err := r.telemetry.Snapshot(context.Background())
	if err != nil {
		klog.Warningf("gpu telemetry refresh failed: %v", err)
	} else {
		r.allocator.ApplySamples(samples)
	}

	counts := map[string]int{catalog.DifficultyLow: 0, catalog.DifficultyHigh: 0}
	for _, dev := range r.allocator.Snapshot() {
		if dev.Available {
			counts[dev.Difficulty]++
		}
	}
	for difficulty, count := range counts {
		metrics.GpusAvailable.WithLabelValues(difficulty).Set(float64(count))
	}
}
