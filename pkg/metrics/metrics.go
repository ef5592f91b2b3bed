/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksTotal counts finished tasks by kind (oneoff|session) and terminal
	// status (completed|failed|timeout).
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gpu_server_tasks_total",
			Help: "Total number of tasks by kind and terminal status",
		},
		[]string{"kind", "status"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gpu_server_active_sessions",
			Help: "Number of currently registered sessions",
		},
	)

	GpusAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gpu_server_gpus_available",
			Help: "Available GPU devices per difficulty class",
		},
		[]string{"difficulty"},
	)

	ModelFetchSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gpu_server_model_fetch_seconds",
			Help:    "Model fetch duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	SessionQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gpu_server_session_queue_depth",
			Help: "Queued requests per session",
		},
		[]string{"session"},
	)
)

// DropSession removes the per-session gauge once the session is killed so
// the exposition does not grow without bound.
func DropSession(sessionId string) {
	SessionQueueDepth.DeleteLabelValues(sessionId)
}
