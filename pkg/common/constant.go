/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package common

const (
	ServiceName = "GPU Service"
	Version     = "1.0.0"

	// RouterApiRootPath prefixes the task and session endpoints.
	RouterApiRootPath = "api"

	// SessionId is the path parameter name on session-scoped endpoints.
	SessionId = "sessionId"

	// HeaderApiKey carries the internal key that authenticates callers.
	HeaderApiKey = "X-API-Key"
)
