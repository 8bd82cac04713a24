// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wolfgrimmm/comfyui-runpod-installer/pkg/console"
	"github.com/wolfgrimmm/comfyui-runpod-installer/pkg/downloader"
)

// DownloadStatus is the lifecycle state of a download job.
type DownloadStatus string

const (
	StatusStarting    DownloadStatus = "starting"
	StatusDownloading DownloadStatus = "downloading"
	StatusCompleted   DownloadStatus = "completed"
	StatusError       DownloadStatus = "error"
	StatusCancelled   DownloadStatus = "cancelled"
)

// Download is one tracked download job.
type Download struct {
	ID        string         `json:"id"`
	Repo      string         `json:"repo"`
	Files     []string       `json:"files,omitempty"`
	Subfolder string         `json:"subfolder,omitempty"`
	SaveAs    string         `json:"saveAs,omitempty"`
	Dir       string         `json:"dir"`
	Status    DownloadStatus `json:"status"`

	// Progress is the percent complete of the file currently downloading.
	Progress        float64 `json:"progress"`
	CurrentFile     string  `json:"currentFile,omitempty"`
	DownloadedBytes int64   `json:"downloadedBytes"`
	TotalBytes      int64   `json:"totalBytes"`
	TotalFiles      int     `json:"totalFiles"`
	CompletedFiles  int     `json:"completedFiles"`

	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`

	cancel context.CancelFunc
}

// JobManager tracks download jobs and bounds how many run at once.
type JobManager struct {
	mu     sync.RWMutex
	jobs   map[string]*Download
	config Config
	group  *errgroup.Group
	log    zerolog.Logger
}

// NewJobManager creates a manager allowing cfg.MaxActive concurrent jobs.
func NewJobManager(cfg Config) *JobManager {
	g := &errgroup.Group{}
	if cfg.MaxActive > 0 {
		g.SetLimit(cfg.MaxActive)
	}
	return &JobManager{
		jobs:   make(map[string]*Download),
		config: cfg,
		group:  g,
		log:    zerolog.New(os.Stderr).With().Timestamp().Str("component", "jobs").Logger(),
	}
}

// Create registers a download job and schedules it. If an active job for the
// same repo and file set already exists its snapshot is returned instead,
// with existed=true. The returned Download is a copy taken under the lock;
// the job goroutine keeps mutating the tracked struct afterwards.
func (m *JobManager) Create(req DownloadRequest) (job Download, existed bool) {
	m.mu.Lock()
	for _, d := range m.jobs {
		if d.Repo == req.Repo && d.Subfolder == req.Subfolder && sameFiles(d.Files, req.Files) &&
			(d.Status == StatusStarting || d.Status == StatusDownloading) {
			snap := *d
			m.mu.Unlock()
			return snap, true
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Download{
		ID:        uuid.NewString(),
		Repo:      req.Repo,
		Files:     req.Files,
		Subfolder: req.Subfolder,
		SaveAs:    req.SaveAs,
		Dir:       m.config.ModelsDir,
		Status:    StatusStarting,
		CreatedAt: time.Now(),
		cancel:    cancel,
	}
	m.jobs[d.ID] = d
	snap := *d
	m.mu.Unlock()

	go m.group.Go(func() error {
		m.run(ctx, d)
		return nil
	})
	return snap, false
}

// Get returns a snapshot of a job by ID, safe to read or encode while the
// job keeps running.
func (m *JobManager) Get(id string) (Download, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.jobs[id]
	if !ok {
		return Download{}, false
	}
	return *d, true
}

// All returns a snapshot of every job keyed by ID.
func (m *JobManager) All() map[string]Download {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Download, len(m.jobs))
	for id, d := range m.jobs {
		out[id] = *d
	}
	return out
}

// Cancel stops a starting or downloading job.
func (m *JobManager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.jobs[id]
	if !ok {
		return false
	}
	if d.Status != StatusStarting && d.Status != StatusDownloading {
		return false
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.Status = StatusCancelled
	now := time.Now()
	d.EndedAt = &now
	return true
}

// Remove deletes a finished job from the list, cancelling it first if needed.
func (m *JobManager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.jobs[id]
	if !ok {
		return false
	}
	if d.cancel != nil && (d.Status == StatusStarting || d.Status == StatusDownloading) {
		d.cancel()
	}
	delete(m.jobs, id)
	return true
}

func (m *JobManager) run(ctx context.Context, job *Download) {
	if err := ctx.Err(); err != nil {
		return
	}

	dl := downloader.New(downloader.Settings{
		Endpoint:    m.config.Endpoint,
		Token:       m.config.Token,
		Connections: m.config.Connections,
		CacheDir:    m.config.CacheDir,
	},
		downloader.WithConsole(console.Discard()),
		downloader.WithProgress(m.progressFor(job)),
	)

	files := job.Files
	if len(files) == 0 {
		scanned, err := dl.ScanRepo(ctx, job.Repo, nil, job.Subfolder)
		if err != nil {
			m.finish(job, err)
			return
		}
		files = scanned
	}

	m.mu.Lock()
	job.TotalFiles = len(files)
	m.mu.Unlock()

	var failed error
	for _, remote := range files {
		if ctx.Err() != nil {
			break
		}
		dest := downloader.Destination{Dir: job.Dir}
		if job.SaveAs != "" && len(files) == 1 {
			dest.Filename = job.SaveAs
		}
		err := dl.DownloadFile(ctx, downloader.Target{
			Repo:       job.Repo,
			RemotePath: remote,
			Subfolder:  job.Subfolder,
		}, dest)
		if err != nil {
			m.log.Error().Err(err).Str("repo", job.Repo).Str("path", remote).Msg("download failed")
			if failed == nil {
				failed = err
			}
			continue
		}
		m.mu.Lock()
		job.CompletedFiles++
		m.mu.Unlock()
	}

	if ctx.Err() != nil {
		// Cancel already set the terminal state.
		return
	}
	m.finish(job, failed)
}

func (m *JobManager) finish(job *Download, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.Status == StatusCancelled {
		return
	}
	now := time.Now()
	job.EndedAt = &now
	if err != nil {
		job.Status = StatusError
		job.Error = err.Error()
		return
	}
	job.Status = StatusCompleted
	job.Progress = 100
}

// progressFor maps downloader events onto the job's visible state.
func (m *JobManager) progressFor(job *Download) downloader.ProgressFunc {
	return func(ev downloader.ProgressEvent) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if job.Status == StatusCancelled {
			return
		}
		switch ev.Event {
		case "file_start":
			job.Status = StatusDownloading
			job.CurrentFile = ev.Path
			job.TotalBytes = ev.Total
			job.DownloadedBytes = 0
			job.Progress = 0
		case "file_progress":
			job.Status = StatusDownloading
			job.DownloadedBytes = ev.Downloaded
			job.TotalBytes = ev.Total
			if ev.Total > 0 {
				job.Progress = float64(ev.Downloaded) / float64(ev.Total) * 100
			}
		case "file_done":
			if job.TotalBytes > 0 {
				job.DownloadedBytes = job.TotalBytes
			}
			job.Progress = 100
		}
	}
}

func sameFiles(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
