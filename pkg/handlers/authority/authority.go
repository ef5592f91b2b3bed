/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package authority

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/common"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/config"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/errors"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/utils"
)

const InvalidApiKey = "Invalid API key"

// Authorize guards the task and session endpoints with the internal API key
// from the X-API-Key header. The comparison is constant time. An empty
// configured key locks the endpoints instead of opening them.
func Authorize(_ ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader(common.HeaderApiKey)
		if !keyMatches(presented, config.GetInternalApiKey()) {
			klog.Warningf("Rejected request to %s, invalid api key", c.Request.URL.Path)
			utils.AbortWithApiError(c, errors.NewUnauthorized(InvalidApiKey))
			return
		}
		c.Next()
	}
}

func keyMatches(presented, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}
