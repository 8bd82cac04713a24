// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package downloader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const testSHA = "df703858c425f68224d46d40583c21f3db470d789de282974b37c8d00e193874"

func TestHashCache(t *testing.T) {
	dir := t.TempDir()

	t.Run("put then get survives reload", func(t *testing.T) {
		c := loadHashCache(dir, zerolog.Nop())
		c.Put("owner/repo", "model.safetensors", testSHA)

		c2 := loadHashCache(dir, zerolog.Nop())
		sha, ok := c2.Get("owner/repo", "model.safetensors")
		if !ok || sha != testSHA {
			t.Fatalf("got (%q, %v), want cached digest", sha, ok)
		}
	})

	t.Run("miss for unknown key", func(t *testing.T) {
		c := loadHashCache(dir, zerolog.Nop())
		if _, ok := c.Get("owner/repo", "other.bin"); ok {
			t.Error("unexpected hit")
		}
	})

	t.Run("corrupted file starts empty", func(t *testing.T) {
		bad := t.TempDir()
		os.WriteFile(filepath.Join(bad, hashCacheFile), []byte("{not json"), 0o644)
		c := loadHashCache(bad, zerolog.Nop())
		if _, ok := c.Get("a/b", "c"); ok {
			t.Error("corrupted cache should be empty")
		}
		// And it is still writable.
		c.Put("a/b", "c", testSHA)
		if _, ok := c.Get("a/b", "c"); !ok {
			t.Error("put after corruption should work")
		}
	})
}

func TestVerifiedFileCache(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(t.TempDir(), "weights.bin")
	if err := os.WriteFile(local, []byte(strings.Repeat("x", 2048)), 0o644); err != nil {
		t.Fatal(err)
	}

	c := loadVerifiedCache(dir, zerolog.Nop())

	t.Run("unknown file is not verified", func(t *testing.T) {
		if c.IsVerified("o/r", "weights.bin", local, testSHA) {
			t.Error("expected miss")
		}
	})

	t.Run("marked file is verified and survives reload", func(t *testing.T) {
		c.MarkVerified("o/r", "weights.bin", local, testSHA)
		if !c.IsVerified("o/r", "weights.bin", local, testSHA) {
			t.Error("expected hit after MarkVerified")
		}
		c2 := loadVerifiedCache(dir, zerolog.Nop())
		if !c2.IsVerified("o/r", "weights.bin", local, testSHA) {
			t.Error("expected hit after reload")
		}
	})

	t.Run("different expected hash misses", func(t *testing.T) {
		other := strings.Repeat("a", 64)
		if c.IsVerified("o/r", "weights.bin", local, other) {
			t.Error("hash change should invalidate")
		}
	})

	t.Run("empty expected hash misses", func(t *testing.T) {
		if c.IsVerified("o/r", "weights.bin", local, "") {
			t.Error("empty hash should never verify")
		}
	})

	t.Run("size change invalidates", func(t *testing.T) {
		if err := os.WriteFile(local, []byte("shrunk"), 0o644); err != nil {
			t.Fatal(err)
		}
		if c.IsVerified("o/r", "weights.bin", local, testSHA) {
			t.Error("size change should invalidate")
		}
		// Restore for the next subtest.
		os.WriteFile(local, []byte(strings.Repeat("x", 2048)), 0o644)
		c.MarkVerified("o/r", "weights.bin", local, testSHA)
	})

	t.Run("mtime drift beyond tolerance invalidates", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		if err := os.Chtimes(local, past, past); err != nil {
			t.Fatal(err)
		}
		if c.IsVerified("o/r", "weights.bin", local, testSHA) {
			t.Error("mtime change should invalidate")
		}
	})

	t.Run("missing file misses", func(t *testing.T) {
		if c.IsVerified("o/r", "weights.bin", filepath.Join(dir, "nope"), testSHA) {
			t.Error("missing file should not verify")
		}
	})
}
