// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package downloader

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Cache file names, colocated in Settings.CacheDir. Other tools read these;
// the formats are durable.
const (
	hashCacheFile     = "sha256_cache.json"
	verifiedCacheFile = "verified_files_cache.json"
)

func cacheKey(repo, filename string) string {
	return repo + "/" + filename
}

// HashCache is a persistent map from "repo/filename" to a content hash,
// avoiding repeated remote metadata lookups. Entries never expire: the store
// trusts the first lookup, an accepted staleness risk when a repository
// republishes a same-named file.
type HashCache struct {
	mu      sync.Mutex
	path    string
	entries map[string]string
	log     zerolog.Logger
}

// loadHashCache reads the cache file, treating a missing or corrupted file
// as empty.
func loadHashCache(dir string, log zerolog.Logger) *HashCache {
	c := &HashCache{
		path:    filepath.Join(dir, hashCacheFile),
		entries: make(map[string]string),
		log:     log,
	}
	if data, err := os.ReadFile(c.path); err == nil {
		if err := json.Unmarshal(data, &c.entries); err != nil {
			c.log.Warn().Str("file", c.path).Err(err).Msg("hash cache unreadable, starting empty")
			c.entries = make(map[string]string)
		}
	}
	return c
}

// Get returns the cached digest for repo/filename.
func (c *HashCache) Get(repo, filename string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sha, ok := c.entries[cacheKey(repo, filename)]
	return sha, ok
}

// Put stores a digest and writes the cache through to disk. Persistence
// failures are logged and otherwise ignored; the in-memory cache still
// serves the rest of the run.
func (c *HashCache) Put(repo, filename, sha string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(repo, filename)] = sha
	c.persistLocked()
}

func (c *HashCache) persistLocked() {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err == nil {
		err = os.WriteFile(c.path, data, 0o644)
	}
	if err != nil {
		c.log.Warn().Str("file", c.path).Err(err).Msg("could not save hash cache")
	}
}

// VerificationRecord remembers that a local file hash-verified successfully.
// It stays valid only while the file's size and modification time still
// match; any disagreement invalidates it and verification is redone.
type VerificationRecord struct {
	SHA256     string  `json:"sha256"`
	Size       int64   `json:"size"`
	MTime      float64 `json:"mtime"`
	VerifiedAt float64 `json:"verified_at"`
}

// VerifiedFileCache is the persistent store of VerificationRecords, keyed by
// "repo/filename", avoiding re-hashing of unchanged multi-gigabyte files.
type VerifiedFileCache struct {
	mu      sync.Mutex
	path    string
	entries map[string]VerificationRecord
	log     zerolog.Logger
}

func loadVerifiedCache(dir string, log zerolog.Logger) *VerifiedFileCache {
	c := &VerifiedFileCache{
		path:    filepath.Join(dir, verifiedCacheFile),
		entries: make(map[string]VerificationRecord),
		log:     log,
	}
	if data, err := os.ReadFile(c.path); err == nil {
		if err := json.Unmarshal(data, &c.entries); err != nil {
			c.log.Warn().Str("file", c.path).Err(err).Msg("verified cache unreadable, starting empty")
			c.entries = make(map[string]VerificationRecord)
		}
	}
	return c
}

// IsVerified reports whether localPath was previously verified against
// expectedSHA and is unchanged since. The modification time comparison
// allows a one-second tolerance for filesystems with coarse timestamps.
func (c *VerifiedFileCache) IsVerified(repo, filename, localPath, expectedSHA string) bool {
	if expectedSHA == "" {
		return false
	}
	c.mu.Lock()
	rec, ok := c.entries[cacheKey(repo, filename)]
	c.mu.Unlock()
	if !ok {
		return false
	}

	fi, err := os.Stat(localPath)
	if err != nil {
		return false
	}
	return rec.SHA256 == expectedSHA &&
		rec.Size == fi.Size() &&
		math.Abs(rec.MTime-unixFloat(fi.ModTime())) < 1.0
}

// MarkVerified records a successful verification of localPath and persists
// the cache.
func (c *VerifiedFileCache) MarkVerified(repo, filename, localPath, sha string) {
	fi, err := os.Stat(localPath)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(repo, filename)] = VerificationRecord{
		SHA256:     sha,
		Size:       fi.Size(),
		MTime:      unixFloat(fi.ModTime()),
		VerifiedAt: unixFloat(time.Now()),
	}
	c.persistLocked()
}

func (c *VerifiedFileCache) persistLocked() {
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err == nil {
		err = os.WriteFile(c.path, data, 0o644)
	}
	if err != nil {
		c.log.Warn().Str("file", c.path).Err(err).Msg("could not save verified cache")
	}
}

func unixFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
