/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package task_handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/errors"
	jsonutils "github.com/AMD-AIG-AIMA/gpu-server/pkg/json"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/pipeline"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/stream"
	apiutils "github.com/AMD-AIG-AIMA/gpu-server/pkg/utils"
)

// pingInterval paces SSE comment lines so idle streams survive proxies
// that reap quiet connections.
const pingInterval = 15 * time.Second

// RunPredefinedTask submits a catalog task and streams its events back to
// the caller as server-sent events. Placement failures surface as regular
// JSON errors before the stream opens; anything after that arrives in-band.
func (h *Handler) RunPredefinedTask(c *gin.Context) {
	req := &PreDefinedTaskRequest{}
	if _, err := apiutils.ParseRequestBody(c.Request, req); err != nil {
		apiutils.AbortWithApiError(c, err)
		return
	}
	if strings.TrimSpace(req.TaskName) == "" {
		apiutils.AbortWithApiError(c, errors.NewBadRequest("task_name is required"))
		return
	}
	if req.TimeoutSeconds < 0 {
		apiutils.AbortWithApiError(c, errors.NewBadRequest("timeout_seconds must not be negative"))
		return
	}

	klog.Infof("Predefined task submitted, name %s, difficulty %q, session %q",
		req.TaskName, req.TaskDifficulty, req.SessionId)
	task, err := h.pipeline.Handle(c.Request.Context(), &pipeline.Submission{
		TaskName:       req.TaskName,
		Difficulty:     req.TaskDifficulty,
		TimeoutSeconds: req.TimeoutSeconds,
		Metadata:       req.Metadata,
		SessionId:      req.SessionId,
		CreateSession:  req.CreateSession,
	})
	if err != nil {
		apiutils.AbortWithApiError(c, err)
		return
	}
	h.streamEvents(c, task)
}

// RunCustomTask still parses its body so callers get schema feedback, then
// answers 501. User-supplied images stay rejected until they run behind a
// sandbox profile.
func (h *Handler) RunCustomTask(c *gin.Context) {
	req := &CustomTaskRequest{}
	if _, err := apiutils.ParseRequestBody(c.Request, req); err != nil {
		apiutils.AbortWithApiError(c, err)
		return
	}
	apiutils.AbortWithApiError(c, errors.NewNotImplemented("Custom tasks not yet implemented"))
}

// streamEvents drains the task sink into the response until the terminal
// task_finish event or client disconnect, whichever comes first.
func (h *Handler) streamEvents(c *gin.Context, task *pipeline.Task) {
	defer task.Sink.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case ev := <-task.Sink.Events():
			if err := writeEvent(c, ev); err != nil {
				klog.Warningf("Task %s: dropping stream, write failed: %v", task.Id, err)
				return
			}
			if ev.Tag() == stream.TagTaskFinish {
				return
			}
		case <-ping.C:
			if _, err := c.Writer.WriteString(": ping\n\n"); err != nil {
				klog.Warningf("Task %s: dropping stream, ping failed: %v", task.Id, err)
				return
			}
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			klog.Infof("Task %s: client disconnected", task.Id)
			return
		}
	}
}

func writeEvent(c *gin.Context, ev stream.Event) error {
	err := sse.Encode(c.Writer, sse.Event{
		Event: ev.Tag(),
		Data:  string(jsonutils.MarshalSilently(ev)),
	})
	if err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}
