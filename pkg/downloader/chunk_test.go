// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package downloader

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testContent returns deterministic pseudo-random bytes.
func testContent(n int) []byte {
	r := rand.New(rand.NewSource(42))
	b := make([]byte, n)
	r.Read(b)
	return b
}

// rangeServer serves content with full Range support and records the Range
// headers it saw.
func rangeServer(t *testing.T, content []byte) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var ranges []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ranges = append(ranges, r.Header.Get("Range"))
		mu.Unlock()
		http.ServeContent(w, r, "data.bin", time.Time{}, bytes.NewReader(content))
	}))
	t.Cleanup(srv.Close)
	return srv, &ranges
}

func TestDownloadChunk(t *testing.T) {
	content := testContent(64 << 10)

	t.Run("downloads its exact byte range", func(t *testing.T) {
		srv, _ := rangeServer(t, content)
		d := newTestDownloader(t, srv.URL, nil)
		dst := filepath.Join(t.TempDir(), "out.bin")
		store := newChunkStore(dst)

		ch := chunkRange{Index: 2, Start: 1000, End: 4999}
		if err := d.downloadChunk(context.Background(), srv.URL, ch, store, nil); err != nil {
			t.Fatal(err)
		}

		got, err := os.ReadFile(store.Path(2))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, content[1000:5000]) {
			t.Error("chunk bytes do not match the planned range")
		}
	})

	t.Run("resumes a partial chunk with an offset range", func(t *testing.T) {
		srv, ranges := rangeServer(t, content)
		d := newTestDownloader(t, srv.URL, nil)
		dst := filepath.Join(t.TempDir(), "out.bin")
		store := newChunkStore(dst)

		ch := chunkRange{Index: 0, Start: 0, End: 9999}
		if err := os.WriteFile(store.Path(0), content[:4000], 0o644); err != nil {
			t.Fatal(err)
		}

		if err := d.downloadChunk(context.Background(), srv.URL, ch, store, nil); err != nil {
			t.Fatal(err)
		}

		if len(*ranges) != 1 || (*ranges)[0] != "bytes=4000-9999" {
			t.Errorf("expected one resume request bytes=4000-9999, got %v", *ranges)
		}
		got, _ := os.ReadFile(store.Path(0))
		if !bytes.Equal(got, content[:10000]) {
			t.Error("resumed chunk bytes are wrong")
		}
	})

	t.Run("complete chunk makes no request", func(t *testing.T) {
		srv, ranges := rangeServer(t, content)
		d := newTestDownloader(t, srv.URL, nil)
		dst := filepath.Join(t.TempDir(), "out.bin")
		store := newChunkStore(dst)

		ch := chunkRange{Index: 1, Start: 100, End: 199}
		if err := os.WriteFile(store.Path(1), content[100:200], 0o644); err != nil {
			t.Fatal(err)
		}

		var reported int64
		progress := func(_ int, n int64) { atomic.StoreInt64(&reported, n) }
		if err := d.downloadChunk(context.Background(), srv.URL, ch, store, progress); err != nil {
			t.Fatal(err)
		}
		if len(*ranges) != 0 {
			t.Errorf("expected no requests, got %v", *ranges)
		}
		if reported != 100 {
			t.Errorf("progress reported %d, want 100", reported)
		}
	})

	t.Run("oversized chunk restarts from zero", func(t *testing.T) {
		srv, ranges := rangeServer(t, content)
		d := newTestDownloader(t, srv.URL, nil)
		dst := filepath.Join(t.TempDir(), "out.bin")
		store := newChunkStore(dst)

		ch := chunkRange{Index: 0, Start: 0, End: 999}
		if err := os.WriteFile(store.Path(0), bytes.Repeat([]byte("z"), 5000), 0o644); err != nil {
			t.Fatal(err)
		}

		if err := d.downloadChunk(context.Background(), srv.URL, ch, store, nil); err != nil {
			t.Fatal(err)
		}
		if len(*ranges) != 1 || (*ranges)[0] != "bytes=0-999" {
			t.Errorf("expected a fresh bytes=0-999 request, got %v", *ranges)
		}
		got, _ := os.ReadFile(store.Path(0))
		if !bytes.Equal(got, content[:1000]) {
			t.Error("restarted chunk bytes are wrong")
		}
	})

	t.Run("persistent server errors exhaust retries", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		d := newTestDownloader(t, srv.URL, nil)
		dst := filepath.Join(t.TempDir(), "out.bin")
		store := newChunkStore(dst)

		err := d.downloadChunk(context.Background(), srv.URL, chunkRange{Index: 0, Start: 0, End: 99}, store, nil)
		var cerr *ChunkError
		if !errors.As(err, &cerr) {
			t.Fatalf("expected ChunkError, got %v", err)
		}
		if int(calls.Load()) != d.cfg.Retries {
			t.Errorf("server saw %d attempts, want %d", calls.Load(), d.cfg.Retries)
		}
	})

	t.Run("cancelled context stops immediately", func(t *testing.T) {
		srv, _ := rangeServer(t, content)
		d := newTestDownloader(t, srv.URL, nil)
		store := newChunkStore(filepath.Join(t.TempDir(), "out.bin"))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := d.downloadChunk(ctx, srv.URL, chunkRange{Index: 0, Start: 0, End: 99}, store, nil)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}
