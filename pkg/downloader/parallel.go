// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package downloader

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// downloadParallel splits a known-size file into ranges, downloads them with
// a worker pool sized to the chunk count, aggregates progress once a second
// and merges on completion.
//
// On any permanent chunk failure the whole file fails without merging;
// partial chunk files stay on disk so the next invocation resumes them.
func (d *Downloader) downloadParallel(ctx context.Context, url, dst, display string, total int64) error {
	chunks := planChunks(total, d.cfg.Connections)
	store := newChunkStore(dst)

	// Per-chunk atomic byte counters; the aggregate is their sum. Seeded
	// from whatever partial chunk files a previous run left behind.
	counters := make([]atomic.Int64, len(chunks))
	var initial int64
	for _, ch := range chunks {
		if have, ok := store.Size(ch.Index); ok && have <= ch.size() {
			counters[ch.Index].Store(have)
			initial += have
		}
	}
	if initial > 0 {
		d.console.Logf("[RESUMING] Already downloaded: %s", formatBytes(initial))
	}

	d.console.Logf("[DOWNLOADING] %s (%s) using %d connections",
		display, formatBytes(total), len(chunks))

	progress := func(index int, downloaded int64) {
		counters[index].Store(downloaded)
	}

	// Dispatch incomplete ranges; already-complete chunk files are not
	// rescheduled.
	var wg sync.WaitGroup
	errCh := make(chan error, len(chunks))
	scheduled := 0
	for _, ch := range chunks {
		if have, ok := store.Size(ch.Index); ok && have == ch.size() {
			counters[ch.Index].Store(have)
			continue
		}
		scheduled++
		wg.Add(1)
		go func(ch chunkRange) {
			defer wg.Done()
			if err := d.downloadChunk(ctx, url, ch, store, progress); err != nil {
				errCh <- err
			}
		}(ch)
	}

	if scheduled == 0 {
		d.console.Log("[MERGING] All chunks already complete")
	} else if err := d.pollChunks(ctx, &wg, counters, total, initial, display); err != nil {
		return err
	}

	close(errCh)
	var failed []error
	for err := range errCh {
		failed = append(failed, err)
	}
	if len(failed) > 0 {
		d.console.Logf("[ERROR] %d chunk(s) failed: %v", len(failed), failed[0])
		return &DownloadError{Path: display, Err: failed[0]}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Re-verify every chunk size before merging; a racing writer or a
	// truncated flush would otherwise corrupt the output silently.
	for _, ch := range chunks {
		have, ok := store.Size(ch.Index)
		if !ok {
			return &DownloadError{Path: display, Err: fmt.Errorf("missing chunk %d", ch.Index)}
		}
		if have != ch.size() {
			return &DownloadError{Path: display,
				Err: fmt.Errorf("chunk %d incomplete: %d/%d bytes", ch.Index, have, ch.size())}
		}
	}

	d.console.Logf("[MERGING] Merging %d chunks...", len(chunks))
	if err := d.mergeChunks(dst, len(chunks)); err != nil {
		return err
	}

	// Final size gate
	fi, err := os.Stat(dst)
	if err != nil || fi.Size() != total {
		var have int64
		if err == nil {
			have = fi.Size()
		}
		os.Remove(dst)
		return &DownloadError{Path: display, Err: fmt.Errorf("final size mismatch: %d != %d", have, total)}
	}
	return nil
}

// pollChunks waits for the worker pool with a short poll interval, emitting
// an aggregated progress line (percentage, instantaneous speed, ETA) about
// once a second.
func (d *Downloader) pollChunks(ctx context.Context, wg *sync.WaitGroup, counters []atomic.Int64, total, initial int64, display string) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	start := time.Now()
	lastEmit := start
	lastBytes := initial

	emit := func(now time.Time) {
		var current int64
		for i := range counters {
			current += counters[i].Load()
		}
		speed := float64(current-lastBytes) / maxSeconds(now.Sub(lastEmit))
		d.showFileProgress(display, current, total, speed)
		d.emit(ProgressEvent{Event: "file_progress", Path: display, Downloaded: current, Total: total})
		lastEmit = now
		lastBytes = current
	}

	for {
		select {
		case <-done:
			emit(time.Now())
			d.console.Clear()
			return nil
		case <-ctx.Done():
			<-done
			return ctx.Err()
		case now := <-ticker.C:
			if now.Sub(lastEmit) >= time.Second {
				emit(now)
			}
		}
	}
}

// showFileProgress renders the single-line bar used for file downloads.
func (d *Downloader) showFileProgress(display string, current, total int64, speed float64) {
	if total <= 0 {
		return
	}
	pct := float64(current) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}

	const barLength = 40
	filled := int(pct * barLength / 100)
	if filled > barLength {
		filled = barLength
	}
	bar := strings.Repeat("=", filled) + strings.Repeat("-", barLength-filled)

	eta := "Unknown"
	if current >= total {
		eta = "Complete"
	} else if speed > 0 {
		eta = formatDuration(time.Duration(float64(total-current) / speed * float64(time.Second)))
	}

	d.console.Show(fmt.Sprintf("%s: [%s] %.1f%% (%s/%s) %s/s ETA: %s",
		display, bar, pct, formatBytes(current), formatBytes(total),
		formatBytes(int64(speed)), eta))
}
