/*
 * Copyright (C) 2025-2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AMD-AIG-AIMA/gpu-server/pkg/errors"
)

func TestDownload(t *testing.T) {
	payload := []byte("model weights payload")
	sum := sha256.Sum256(payload)

	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Internal-Key")
		assert.Equal(t, "/internal/models/llama-7b", r.URL.Path)
		w.Header().Set("Content-Disposition", `attachment; filename="model.gguf"`)
		w.Header().Set("X-Checksum-Sha256", hex.EncodeToString(sum[:]))
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	destDir := t.TempDir()
	fetcher := NewHttpFetcher(server.URL, "test-key")
	err := fetcher.Download(context.Background(), "llama-7b", destDir)
	require.NoError(t, err)
	assert.Equal(t, "test-key", gotKey)

	data, err := os.ReadFile(filepath.Join(destDir, "model.gguf"))
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestDownloadChecksumMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Checksum-Sha256", strings.Repeat("0", 64))
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	fetcher := NewHttpFetcher(server.URL, "test-key")
	err := fetcher.Download(context.Background(), "llama-7b", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, errors.FetchError, errors.GetErrorCode(err))
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestDownloadHttpError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such model", http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := NewHttpFetcher(server.URL, "test-key")
	err := fetcher.Download(context.Background(), "missing", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, errors.FetchError, errors.GetErrorCode(err))
	assert.Contains(t, err.Error(), "http 404")
}

func TestDownloadNoDispositionFallsBackToModelId(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	destDir := t.TempDir()
	fetcher := NewHttpFetcher(server.URL, "test-key")
	require.NoError(t, fetcher.Download(context.Background(), "llama-7b", destDir))

	_, err := os.Stat(filepath.Join(destDir, "llama-7b"))
	assert.NoError(t, err)
}

func TestFilenameFromDisposition(t *testing.T) {
	tests := []struct {
		name        string
		disposition string
		want        string
	}{
		{"empty", "", "fallback"},
		{"plain", `attachment; filename="model.gguf"`, "model.gguf"},
		{"traversal", `attachment; filename="../../etc/passwd"`, "passwd"},
		{"garbage", `;;;`, "fallback"},
		{"no filename param", `attachment`, "fallback"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, filenameFromDisposition(test.disposition, "fallback"))
		})
	}
}
