/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package task_handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/gpu"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/pipeline"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/runtime"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/sessions"
	apiutils "github.com/AMD-AIG-AIMA/gpu-server/pkg/utils"
)

// Handler serves the task, session and health endpoints.
type Handler struct {
	pipeline  *pipeline.Pipeline
	registry  *sessions.Registry
	allocator *gpu.Allocator
	runtime   runtime.Interface
}

func NewHandler(p *pipeline.Pipeline, registry *sessions.Registry, allocator *gpu.Allocator, rt runtime.Interface) *Handler {
	return &Handler{
		pipeline:  p,
		registry:  registry,
		allocator: allocator,
		runtime:   rt,
	}
}

type handleFunc func(*gin.Context) (interface{}, error)

func handle(c *gin.Context, fn handleFunc) {
	rsp, err := fn(c)
	if err != nil {
		apiutils.AbortWithApiError(c, err)
		return
	}
	code := http.StatusOK
	// If a status was previously set, use that status in the response.
	if c.Writer.Status() > 0 {
		code = c.Writer.Status()
	}
	c.JSON(code, rsp)
}
