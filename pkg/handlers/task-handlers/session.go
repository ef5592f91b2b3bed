/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package task_handlers

import (
	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/common"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/errors"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/timeutil"
)

func (h *Handler) ListSessions(c *gin.Context) {
	handle(c, h.listSessions)
}

func (h *Handler) listSessions(_ *gin.Context) (interface{}, error) {
	views := h.registry.List()
	return &ListSessionResponse{
		Sessions: views,
		Total:    len(views),
	}, nil
}

func (h *Handler) GetSession(c *gin.Context) {
	handle(c, h.getSession)
}

func (h *Handler) getSession(c *gin.Context) (interface{}, error) {
	sessionId := c.GetString(common.SessionId)
	session := h.registry.Get(sessionId)
	if session == nil {
		return nil, errors.NewSessionNotFound(sessionId)
	}
	return session.View(), nil
}

func (h *Handler) KillSession(c *gin.Context) {
	handle(c, h.killSession)
}

func (h *Handler) killSession(c *gin.Context) (interface{}, error) {
	sessionId := c.GetString(common.SessionId)
	klog.Infof("Kill requested for session %s", sessionId)
	if err := h.registry.Kill(sessionId, "manual"); err != nil {
		return nil, err
	}
	return &KillSessionResponse{
		Success:   true,
		SessionId: sessionId,
		Message:   "Session killed successfully",
	}, nil
}

func (h *Handler) KeepaliveSession(c *gin.Context) {
	handle(c, h.keepaliveSession)
}

func (h *Handler) keepaliveSession(c *gin.Context) (interface{}, error) {
	sessionId := c.GetString(common.SessionId)
	if err := h.registry.Keepalive(sessionId); err != nil {
		return nil, err
	}
	// The session can be killed between the touch and this read; treat that
	// as not found rather than reporting a keepalive on a dead session.
	session := h.registry.Get(sessionId)
	if session == nil {
		return nil, errors.NewSessionNotFound(sessionId)
	}
	return &KeepaliveResponse{
		Success:      true,
		SessionId:    sessionId,
		Message:      "Session keepalive updated",
		LastActivity: timeutil.FormatRFC3339Milli(session.LastActivity()),
	}, nil
}
