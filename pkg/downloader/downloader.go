// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package downloader moves very large model weights over flaky connections.
//
// Files of known size above a threshold are split into independently
// retryable byte-range chunks downloaded by a worker pool, merged
// deterministically and hash-verified. Partial chunks survive process death
// and resume on the next run. Two small JSON caches avoid repeated remote
// hash lookups and repeated re-hashing of unchanged local files.
package downloader

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/wolfgrimmm/comfyui-runpod-installer/pkg/console"
)

// Downloader is the top-level per-file download orchestrator. It is safe for
// use from multiple goroutines; the caches and the console presenter carry
// their own locks.
type Downloader struct {
	cfg      Settings
	httpc    *http.Client
	console  *console.Presenter
	hashes   *HashCache
	verified *VerifiedFileCache
	log      zerolog.Logger

	// OnProgress, when set, receives machine-readable progress events in
	// addition to the console output. Set before the first download.
	OnProgress ProgressFunc
}

// Option customizes a Downloader.
type Option func(*Downloader)

// WithConsole replaces the default terminal presenter.
func WithConsole(p *console.Presenter) Option {
	return func(d *Downloader) { d.console = p }
}

// WithLogger replaces the default logger.
func WithLogger(log zerolog.Logger) Option {
	return func(d *Downloader) { d.log = log }
}

// WithProgress sets the machine-readable progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(d *Downloader) { d.OnProgress = fn }
}

// New creates a Downloader, loading both caches from cfg.CacheDir.
func New(cfg Settings, opts ...Option) *Downloader {
	cfg.applyDefaults()

	d := &Downloader{
		cfg:     cfg,
		httpc:   buildHTTPClient(cfg),
		console: console.New(),
		log:     zerolog.New(os.Stderr).With().Timestamp().Str("component", "downloader").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.hashes = loadHashCache(cfg.CacheDir, d.log)
	d.verified = loadVerifiedCache(cfg.CacheDir, d.log)
	d.log.Debug().
		Str("hashCache", d.hashes.path).
		Str("verifiedCache", d.verified.path).
		Msg("cache files loaded")
	return d
}

// Console returns the presenter the downloader renders through, so callers
// can interleave their own permanent lines safely.
func (d *Downloader) Console() *console.Presenter {
	return d.console
}

func (d *Downloader) emit(ev ProgressEvent) {
	if d.OnProgress == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	d.OnProgress(ev)
}
