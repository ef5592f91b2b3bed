/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package utils

import (
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"
)

// Logger returns a middleware that writes one klog line per request.
// Errors attached to the context by AbortWithApiError are included.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		duration := time.Since(startTime)
		statusCode := c.Writer.Status()
		method := c.Request.Method
		path := c.Request.URL.Path
		clientIP := c.ClientIP()

		if len(c.Errors) > 0 {
			klog.Errorf("Request: Method=%s | Path=%s | Status=%d | IP=%s | Duration=%v | Errors=%s",
				method, path, statusCode, clientIP, duration, c.Errors.String())
			return
		}
		klog.Infof("Request: Method=%s | Path=%s | Status=%d | IP=%s | Duration=%v",
			method, path, statusCode, clientIP, duration)
	}
}
