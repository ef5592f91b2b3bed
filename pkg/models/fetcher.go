/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/errors"
	"github.com/AMD-AIG-AIMA/gpu-server/pkg/httpclient"
)

// Large models take a while; the transfer as a whole is bounded, not the
// individual reads.
const downloadTimeout = 5 * time.Minute

// Fetcher materializes one model's bytes into destDir.
type Fetcher interface {
	Download(ctx context.Context, modelId, destDir string) error
}

// HttpFetcher downloads models from the file service's internal API.
type HttpFetcher struct {
	client      httpclient.Interface
	baseUrl     string
	internalKey string
	timeout     time.Duration
}

func NewHttpFetcher(baseUrl, internalKey string) *HttpFetcher {
	return &HttpFetcher{
		client:      httpclient.NewHttpClient(),
		baseUrl:     baseUrl,
		internalKey: internalKey,
		timeout:     downloadTimeout,
	}
}

// Download streams GET {baseUrl}/internal/models/{modelId} into destDir.
// The file name comes from Content-Disposition, falling back to the model
// id. When the response carries X-Checksum-Sha256 the payload is verified
// against it. No retries on any failure.
func (f *HttpFetcher) Download(ctx context.Context, modelId, destDir string) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/internal/models/%s", f.baseUrl, modelId)
	rsp, err := f.client.Stream(ctx, url, "X-Internal-Key", f.internalKey)
	if err != nil {
		return errors.NewFetchError(modelId, err.Error())
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return errors.NewFetchError(modelId, fmt.Sprintf("file service returned http %d", rsp.StatusCode))
	}

	filename := filenameFromDisposition(rsp.Header.Get("Content-Disposition"), modelId)
	target := filepath.Join(destDir, filename)
	file, err := os.Create(target)
	if err != nil {
		return errors.NewFetchError(modelId, err.Error())
	}

	hasher := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(file, hasher), rsp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		return errors.NewFetchError(modelId, copyErr.Error())
	}
	if closeErr != nil {
		return errors.NewFetchError(modelId, closeErr.Error())
	}

	if want := rsp.Header.Get("X-Checksum-Sha256"); want != "" {
		got := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(want, got) {
			return errors.NewFetchError(modelId,
				fmt.Sprintf("checksum mismatch: want %s, got %s", want, got))
		}
	}
	klog.Infof("downloaded model %s to %s", modelId, target)
	return nil
}

// filenameFromDisposition extracts a safe file name from the header. Path
// separators are stripped so the target always lands inside destDir.
func filenameFromDisposition(disposition, fallback string) string {
	if disposition == "" {
		return fallback
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return fallback
	}
	name := filepath.Base(params["filename"])
	if name == "" || name == "." || name == string(filepath.Separator) {
		return fallback
	}
	return name
}
