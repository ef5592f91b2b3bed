/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package task_handlers

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/common"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/handlers/authority"
)

// InitTaskRouters registers the task and session routes. Everything under
// the api group requires the internal api key; health, the service banner
// and the metrics endpoint stay open for probes and scrapers.
func InitTaskRouters(e *gin.Engine, h *Handler) {
	group := e.Group(common.RouterApiRootPath, authority.Authorize(), authority.Prepare())

	group.POST("tasks/predefined", h.RunPredefinedTask)
	group.POST("tasks/custom", h.RunCustomTask)

	group.GET("sessions", h.ListSessions)
	group.GET(fmt.Sprintf("sessions/:%s", common.SessionId), h.GetSession)
	group.DELETE(fmt.Sprintf("sessions/:%s", common.SessionId), h.KillSession)
	group.POST(fmt.Sprintf("sessions/:%s/keepalive", common.SessionId), h.KeepaliveSession)
	group.GET(fmt.Sprintf("sessions/:%s/attach", common.SessionId), h.AttachSession)

	e.GET("/health", h.Health)
	e.GET("/", h.ServiceInfo)
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
