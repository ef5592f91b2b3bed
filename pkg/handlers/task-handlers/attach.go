/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package task_handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/shlex"
	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/common"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/errors"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/runtime"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/sessions"
	apiutils "github.com/AMD-AIG-AIMA/gpu-server/pkg/utils"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Allow Cross-Origin Access
		return true
	},
}

const resizePrefix = "RESIZE"

// AttachSession upgrades the request to a websocket and bridges it to an
// interactive terminal inside the session container. Terminal output travels
// as binary frames; text frames starting with "RESIZE <cols> <rows>" adjust
// the terminal, everything else is fed to stdin.
func (h *Handler) AttachSession(c *gin.Context) {
	sessionId := c.GetString(common.SessionId)
	session := h.registry.Get(sessionId)
	if session == nil {
		apiutils.AbortWithApiError(c, errors.NewSessionNotFound(sessionId))
		return
	}
	if status := session.Status(); status != sessions.StatusWaiting && status != sessions.StatusWorking {
		apiutils.AbortWithApiError(c, errors.NewInvalidSessionState(sessionId, string(status)))
		return
	}
	command, err := parseAttachCommand(c.Query("command"))
	if err != nil {
		apiutils.AbortWithApiError(c, errors.NewBadRequest(err.Error()))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		klog.Warningf("Failed to upgrade attach request for session %s, error: %v", sessionId, err)
		return
	}

	tty, err := h.runtime.ExecTty(c.Request.Context(), session.ContainerId(), command)
	if err != nil {
		klog.Errorf("Failed to attach to session %s, error: %v", sessionId, err)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(err.Error()))
		_ = conn.Close()
		return
	}
	session.Touch()
	klog.Infof("Attached to session %s, command %v", sessionId, command)

	bridge(c.Request.Context(), conn, tty)
	session.Touch()

	if err := closeWebSocket(conn); err != nil {
		klog.Warningf("Failed to close attach websocket of session %s, error: %v", sessionId, err)
	}
}

// parseAttachCommand splits the optional command query with shell quoting
// rules. An empty query attaches a plain shell.
func parseAttachCommand(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{"/bin/sh"}, nil
	}
	command, err := shlex.Split(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid command %q: %v", raw, err)
	}
	if len(command) == 0 {
		return []string{"/bin/sh"}, nil
	}
	return command, nil
}

// bridge pumps the terminal both ways until the client or the process goes
// away. Closing the tty unblocks the reader goroutine.
func bridge(ctx context.Context, conn *websocket.Conn, tty runtime.TtyStream) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			n, err := tty.Read(buf)
			if n > 0 {
				if err := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				klog.Infof("Attach stream closed unexpectedly: %v", err)
			}
			break
		}
		if cols, rows, ok := parseResize(string(msg)); ok {
			if err := tty.Resize(ctx, rows, cols); err != nil {
				klog.Warningf("Failed to resize attach terminal, error: %v", err)
			}
			continue
		}
		if _, err := tty.Write(msg); err != nil {
			break
		}
	}

	tty.Close()
	<-done
}

// parseResize recognizes the "RESIZE <cols> <rows>" control line.
func parseResize(msg string) (cols, rows uint, ok bool) {
	if !strings.HasPrefix(msg, resizePrefix) {
		return 0, 0, false
	}
	fields := strings.Split(msg, " ")
	if len(fields) != 3 {
		return 0, 0, false
	}
	c, errC := strconv.Atoi(fields[1])
	r, errR := strconv.Atoi(fields[2])
	if errC != nil || errR != nil || c <= 0 || r <= 0 {
		return 0, 0, false
	}
	return uint(c), uint(r), true
}

func closeWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	if err != nil {
		return err
	}
	// Give the peer a moment to see the close frame.
	time.Sleep(1 * time.Second)
	return conn.Close()
}
