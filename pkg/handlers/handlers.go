/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/config"
	commonerrors "github.com/AMD-AIG-AIMA/gpu-server/pkg/errors"
	task_handlers "github.com/AMD-AIG-AIMA/gpu-server/pkg/handlers/task-handlers"
	apiutils "github.com/AMD-AIG-AIMA/gpu-server/pkg/utils"
)

// InitHttpHandlers builds the Gin engine with logging, recovery and CORS
// middleware and registers every route of the service.
func InitHttpHandlers(handler *task_handlers.Handler) *gin.Engine {
	engine := gin.New()
	engine.Use(apiutils.Logger(), gin.Recovery(), apiutils.CorsMiddleware(config.GetCorsOrigins()))
	engine.NoRoute(func(c *gin.Context) {
		apiutils.AbortWithApiError(c, commonerrors.NewNotFoundWithMessage(c.Request.RequestURI+" not found"))
	})

	task_handlers.InitTaskRouters(engine, handler)
	return engine
}
