/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package authority

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/common"
)

// Prepare trims the session id path parameter once so every handler reads a
// clean value from the context.
func Prepare(_ ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(common.SessionId, strings.TrimSpace(c.Param(common.SessionId)))
	}
}
