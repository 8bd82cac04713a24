// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package downloader

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wolfgrimmm/comfyui-runpod-installer/pkg/console"
)

// newTestDownloader builds a Downloader against the given endpoint with fast
// retries, a silent console and caches isolated in a temp dir.
func newTestDownloader(t *testing.T, endpoint string, mutate func(*Settings)) *Downloader {
	t.Helper()

	cfg := DefaultSettings()
	cfg.Endpoint = endpoint
	cfg.CacheDir = t.TempDir()
	cfg.Retries = 3
	cfg.RetryDelay = time.Millisecond
	cfg.MaxRetryDelay = 5 * time.Millisecond
	cfg.BufferSize = 64 << 10
	if mutate != nil {
		mutate(&cfg)
	}

	return New(cfg,
		WithConsole(console.Discard()),
		WithLogger(zerolog.Nop()),
	)
}
