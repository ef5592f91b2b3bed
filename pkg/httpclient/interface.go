/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package httpclient

import (
	"context"
	"net/http"
)

type Interface interface {
	Get(url string, headers ...string) (*Result, error)
	Post(url string, body interface{}, headers ...string) (*Result, error)
	Put(url string, body interface{}, headers ...string) (*Result, error)
	Delete(url string, headers ...string) (*Result, error)
	Do(req *http.Request) (*Result, error)
	// Stream issues a GET without the default client timeout and returns the
	// raw response for incremental reads. The caller bounds the transfer via
	// ctx and must close the body.
	Stream(ctx context.Context, url string, headers ...string) (*http.Response, error)
}
