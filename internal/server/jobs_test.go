// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingHub answers nothing until the test finishes, keeping jobs pinned in
// an active state.
func blockingHub(t *testing.T) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	return srv
}

// fileHub serves one small repository file with a content-hash ETag.
func fileHub(t *testing.T, path string, content []byte) *httptest.Server {
	t.Helper()
	sum := sha256.Sum256(content)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/o/r/resolve/main/"+path {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("ETag", etag)
		http.ServeContent(w, r, path, time.Time{}, bytes.NewReader(content))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, endpoint string) Config {
	t.Helper()
	return Config{
		ModelsDir:   t.TempDir(),
		CacheDir:    t.TempDir(),
		Connections: 2,
		MaxActive:   2,
		Endpoint:    endpoint,
	}
}

func waitStatus(t *testing.T, m *JobManager, id string, want DownloadStatus) Download {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if d, ok := m.Get(id); ok && d.Status == want {
			return d
		}
		time.Sleep(10 * time.Millisecond)
	}
	d, _ := m.Get(id)
	t.Fatalf("job %s never reached %s (last: %+v)", id, want, d)
	return Download{}
}

func TestJobManagerCreate(t *testing.T) {
	hub := blockingHub(t)
	m := NewJobManager(testConfig(t, hub.URL))

	job, existed := m.Create(DownloadRequest{Repo: "o/r", Files: []string{"a.bin"}})
	require.False(t, existed)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StatusStarting, job.Status)
	assert.Equal(t, m.config.ModelsDir, job.Dir, "destination is server-controlled")
}

func TestJobManagerDeduplication(t *testing.T) {
	hub := blockingHub(t)
	m := NewJobManager(testConfig(t, hub.URL))

	job1, _ := m.Create(DownloadRequest{Repo: "o/r", Files: []string{"a.bin"}})
	job2, existed := m.Create(DownloadRequest{Repo: "o/r", Files: []string{"a.bin"}})
	assert.True(t, existed)
	assert.Equal(t, job1.ID, job2.ID)

	t.Run("different file sets are different jobs", func(t *testing.T) {
		job3, existed := m.Create(DownloadRequest{Repo: "o/r", Files: []string{"b.bin"}})
		assert.False(t, existed)
		assert.NotEqual(t, job1.ID, job3.ID)
	})
}

func TestJobManagerSnapshots(t *testing.T) {
	content := []byte("snapshot model weights")
	hub := fileHub(t, "weights.bin", content)
	m := NewJobManager(testConfig(t, hub.URL))

	job, _ := m.Create(DownloadRequest{Repo: "o/r", Files: []string{"weights.bin"}})

	// Hammer the read path while the job goroutine mutates its state; Get and
	// All hand out copies, so these reads never share memory with the writer.
	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
				m.Get(job.ID)
				m.All()
			}
		}
	}()

	waitStatus(t, m, job.ID, StatusCompleted)
	close(stop)
	readers.Wait()

	t.Run("mutating a snapshot does not touch the tracked job", func(t *testing.T) {
		got, ok := m.Get(job.ID)
		require.True(t, ok)
		got.Status = StatusError
		got.Error = "scribbled"

		again, ok := m.Get(job.ID)
		require.True(t, ok)
		assert.Equal(t, StatusCompleted, again.Status)
		assert.Empty(t, again.Error)
	})
}

func TestJobManagerCompletesDownload(t *testing.T) {
	content := []byte("tiny model weights")
	hub := fileHub(t, "weights.bin", content)
	cfg := testConfig(t, hub.URL)
	m := NewJobManager(cfg)

	job, _ := m.Create(DownloadRequest{Repo: "o/r", Files: []string{"weights.bin"}})
	done := waitStatus(t, m, job.ID, StatusCompleted)

	assert.Equal(t, float64(100), done.Progress)
	assert.Equal(t, 1, done.CompletedFiles)
	assert.NotNil(t, done.EndedAt)

	got, err := os.ReadFile(filepath.Join(cfg.ModelsDir, "weights.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestJobManagerSaveAs(t *testing.T) {
	content := []byte("vae weights")
	hub := fileHub(t, "vae/model.safetensors", content)
	cfg := testConfig(t, hub.URL)
	m := NewJobManager(cfg)

	job, _ := m.Create(DownloadRequest{
		Repo:   "o/r",
		Files:  []string{"vae/model.safetensors"},
		SaveAs: "qwen_vae.safetensors",
	})
	waitStatus(t, m, job.ID, StatusCompleted)

	_, err := os.Stat(filepath.Join(cfg.ModelsDir, "qwen_vae.safetensors"))
	assert.NoError(t, err, "file should be saved under the requested name")
}

func TestJobManagerErrorState(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	m := NewJobManager(testConfig(t, srv.URL))

	job, _ := m.Create(DownloadRequest{Repo: "o/r", Files: []string{"gone.bin"}})
	done := waitStatus(t, m, job.ID, StatusError)
	assert.NotEmpty(t, done.Error)
}

func TestJobManagerCancel(t *testing.T) {
	hub := blockingHub(t)
	m := NewJobManager(testConfig(t, hub.URL))

	job, _ := m.Create(DownloadRequest{Repo: "o/r", Files: []string{"a.bin"}})
	require.True(t, m.Cancel(job.ID))

	d, _ := m.Get(job.ID)
	assert.Equal(t, StatusCancelled, d.Status)
	assert.NotNil(t, d.EndedAt)

	t.Run("cancel is not repeatable", func(t *testing.T) {
		assert.False(t, m.Cancel(job.ID))
	})
	t.Run("unknown ID", func(t *testing.T) {
		assert.False(t, m.Cancel("nope"))
	})
}

func TestJobManagerAllAndRemove(t *testing.T) {
	hub := blockingHub(t)
	m := NewJobManager(testConfig(t, hub.URL))

	job1, _ := m.Create(DownloadRequest{Repo: "o/r", Files: []string{"a.bin"}})
	job2, _ := m.Create(DownloadRequest{Repo: "o/r", Files: []string{"b.bin"}})

	all := m.All()
	assert.Len(t, all, 2)
	assert.Contains(t, all, job1.ID)
	assert.Contains(t, all, job2.ID)

	require.True(t, m.Remove(job1.ID))
	assert.Len(t, m.All(), 1)
	assert.False(t, m.Remove(job1.ID))
}
