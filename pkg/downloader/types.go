// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package downloader

import "time"

// SizeUnknown is the sentinel returned by the remote size probe when a file's
// length cannot be determined ahead of time (chunked or compressed transport).
// It is distinct from a legitimate zero-length file.
const SizeUnknown int64 = -1

// Target identifies one remote file to download.
//
// Repo is the repository ID in "owner/name" format. RemotePath is the file's
// path within the repository, including any folder prefix. Subfolder, when
// set, records the repository folder the file was scanned from; it is used to
// strip the prefix when deriving the local name.
type Target struct {
	Repo       string
	RemotePath string
	Subfolder  string
}

// Destination describes where a Target is saved locally.
//
// Dir is the base directory. Filename optionally renames the file; when
// empty, the remote path (with Target.Subfolder stripped) is used, preserving
// any remaining subdirectories.
type Destination struct {
	Dir      string
	Filename string
}

// Settings configures download behavior.
//
// All fields have defaults; see DefaultSettings. The sizing constants mirror
// what large model weights need: wide fan-out, big streaming buffers, patient
// retries.
type Settings struct {
	// Endpoint is the remote hub base URL. Defaults to the Hugging Face Hub.
	Endpoint string

	// Token is a bearer token for private or gated repositories.
	Token string

	// Connections is the number of byte-range chunks a large file is split
	// into, and equally the size of the worker pool downloading them.
	Connections int

	// BufferSize is the copy buffer used when streaming response bodies.
	BufferSize int

	// Retries is the attempt ceiling per chunk or per whole-file stream.
	Retries int

	// RetryDelay is the base backoff delay; doubled per attempt.
	RetryDelay time.Duration

	// MaxRetryDelay caps the exponential backoff.
	MaxRetryDelay time.Duration

	// RequestTimeout bounds connection setup and response-header wait per
	// HTTP request.
	RequestTimeout time.Duration

	// ParallelThreshold is the minimum remote size for the parallel chunked
	// path. Smaller files download in a single resumable stream.
	ParallelThreshold int64

	// CacheDir is where the hash cache and verified-files cache JSON files
	// live. Defaults to the current directory.
	CacheDir string
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		Endpoint:          DefaultEndpoint,
		Connections:       16,
		BufferSize:        10 << 20,
		Retries:           5,
		RetryDelay:        2 * time.Second,
		MaxRetryDelay:     30 * time.Second,
		RequestTimeout:    5 * time.Minute,
		ParallelThreshold: 10 << 20,
		CacheDir:          ".",
	}
}

func (s *Settings) applyDefaults() {
	def := DefaultSettings()
	if s.Endpoint == "" {
		s.Endpoint = def.Endpoint
	}
	if s.Connections <= 0 {
		s.Connections = def.Connections
	}
	if s.BufferSize <= 0 {
		s.BufferSize = def.BufferSize
	}
	if s.Retries <= 0 {
		s.Retries = def.Retries
	}
	if s.RetryDelay <= 0 {
		s.RetryDelay = def.RetryDelay
	}
	if s.MaxRetryDelay <= 0 {
		s.MaxRetryDelay = def.MaxRetryDelay
	}
	if s.RequestTimeout <= 0 {
		s.RequestTimeout = def.RequestTimeout
	}
	if s.ParallelThreshold <= 0 {
		s.ParallelThreshold = def.ParallelThreshold
	}
	if s.CacheDir == "" {
		s.CacheDir = def.CacheDir
	}
}

// ProgressEvent is a machine-readable progress update, emitted alongside the
// human console output so callers such as the control-panel job manager can
// track downloads.
type ProgressEvent struct {
	Time time.Time `json:"time"`

	// Event is one of "file_start", "file_progress", "file_done",
	// "file_failed", "retry".
	Event string `json:"event"`

	Repo string `json:"repo,omitempty"`
	Path string `json:"path,omitempty"`

	// Downloaded is cumulative bytes so far; Total is the expected size, or
	// SizeUnknown when the length could not be probed.
	Downloaded int64 `json:"downloaded,omitempty"`
	Total      int64 `json:"total,omitempty"`

	Attempt int    `json:"attempt,omitempty"`
	Message string `json:"message,omitempty"`
}

// ProgressFunc receives progress events. It may be invoked from multiple
// goroutines and must be safe for concurrent use.
type ProgressFunc func(ProgressEvent)

// BatchResult summarizes a multi-file download run.
type BatchResult struct {
	Skipped    int
	Downloaded int
	Failed     int

	// FailedFiles lists the remote paths that could not be downloaded.
	FailedFiles []string
}
