// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package downloader

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the library.
var (
	// ErrMissingRepo is returned when no repository is specified.
	ErrMissingRepo = errors.New("missing repository ID")

	// ErrInvalidRepo is returned when the repository ID is not in
	// "owner/name" format.
	ErrInvalidRepo = errors.New("invalid repository ID: expected owner/name format")

	// ErrSizeUnavailable is returned when the remote size probe fails
	// outright (as opposed to reporting SizeUnknown for chunked transports).
	ErrSizeUnavailable = errors.New("cannot determine remote file size")

	// ErrUnauthorized is returned when authentication is required but not
	// provided.
	ErrUnauthorized = errors.New("unauthorized: this repository requires authentication")

	// ErrNotFound is returned when the repository or file does not exist.
	ErrNotFound = errors.New("repository or file not found")
)

// IsValidRepoID checks that a repository ID is in "owner/name" format.
func IsValidRepoID(repo string) bool {
	if repo == "" || !strings.Contains(repo, "/") {
		return false
	}
	parts := strings.Split(repo, "/")
	return len(parts) == 2 && parts[0] != "" && parts[1] != ""
}

// DownloadError wraps an error with file context.
type DownloadError struct {
	Path string
	Err  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.Path, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// VerificationError is returned when a computed hash does not match the
// expected digest.
type VerificationError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed for %s: sha256 mismatch (expected %s, got %s)",
		e.Path, e.Expected, e.Actual)
}

// ChunkError is a permanent failure of one byte-range chunk after its retry
// budget is exhausted.
type ChunkError struct {
	Index int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.Index, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

// MergeError is a failure while concatenating chunk files. The destination
// is never touched and chunk files are preserved for a retry.
type MergeError struct {
	Path string
	Err  error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge %s: %v", e.Path, e.Err)
}

func (e *MergeError) Unwrap() error {
	return e.Err
}

// APIError represents an error response from the remote hub.
type APIError struct {
	StatusCode int
	Status     string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Status)
}

// IsRetryable reports whether the request might succeed on retry.
func (e *APIError) IsRetryable() bool {
	switch e.StatusCode {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// Is implements errors.Is for common error comparisons.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case 401, 403:
		return errors.Is(target, ErrUnauthorized)
	case 404:
		return errors.Is(target, ErrNotFound)
	default:
		return false
	}
}
