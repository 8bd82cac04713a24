// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// downloadSingle downloads a file of known size in one sequential stream,
// resuming from whatever the destination already holds. If the server
// answers a ranged resume request with 200 instead of 206 the partial data
// is discarded and the stream restarts from zero.
func (d *Downloader) downloadSingle(ctx context.Context, url, dst, display string, total int64) error {
	boff := newBackoff(d.cfg.RetryDelay, d.cfg.MaxRetryDelay)
	var lastErr error

	for attempt := 0; attempt < d.cfg.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := d.streamSingle(ctx, url, dst, display, total)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < d.cfg.Retries-1 {
			d.console.Finalize("")
			d.console.Logf("[ERROR] Attempt %d: %v", attempt+1, err)
			d.emit(ProgressEvent{Event: "retry", Path: display, Attempt: attempt + 1, Message: err.Error()})
			if !sleepCtx(ctx, boff.Next()) {
				return ctx.Err()
			}
		}
	}
	return &DownloadError{Path: display, Err: lastErr}
}

func (d *Downloader) streamSingle(ctx context.Context, url, dst, display string, total int64) error {
	resumePos := int64(0)
	if fi, err := os.Stat(dst); err == nil {
		resumePos = fi.Size()
		if resumePos >= total {
			d.console.Logf("[OK] %s already complete", display)
			return nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	d.addHeaders(req)
	if resumePos > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumePos))
	}

	resp, err := d.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resumePos > 0 && resp.StatusCode != http.StatusPartialContent {
		// Server ignored the range; start over.
		d.console.Log("[WARNING] Resume not supported, restarting")
		resumePos = 0
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return &APIError{StatusCode: resp.StatusCode, Status: resp.Status, URL: url}
	}

	if resumePos > 0 {
		d.console.Logf("[RESUMING] %s from %s", display, formatBytes(resumePos))
	} else {
		d.console.Logf("[DOWNLOADING] %s (%s)", display, formatBytes(total))
	}

	flag := os.O_WRONLY | os.O_CREATE
	if resumePos > 0 {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}
	out, err := os.OpenFile(dst, flag, 0o644)
	if err != nil {
		return err
	}

	written := resumePos
	start := time.Now()
	var lastUpdate time.Time
	buf := make([]byte, d.cfg.BufferSize)
	var copyErr error
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				copyErr = werr
				break
			}
			written += int64(n)
			if time.Since(lastUpdate) >= 500*time.Millisecond {
				speed := float64(written-resumePos) / maxSeconds(time.Since(start))
				d.showFileProgress(display, written, total, speed)
				d.emit(ProgressEvent{Event: "file_progress", Path: display, Downloaded: written, Total: total})
				lastUpdate = time.Now()
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			copyErr = rerr
			break
		}
	}
	out.Close()
	if copyErr != nil {
		return copyErr
	}

	d.showFileProgress(display, written, total, float64(written-resumePos)/maxSeconds(time.Since(start)))
	d.console.Clear()

	fi, err := os.Stat(dst)
	if err != nil {
		return err
	}
	if fi.Size() != total {
		return fmt.Errorf("size mismatch: %d != %d", fi.Size(), total)
	}
	d.console.Logf("[OK] %s completed", display)
	return nil
}

// downloadUnknownSize streams a response of unknown length to disk. There is
// no resume: byte ranges cannot be computed without a known size, so each
// retry re-downloads the whole file.
func (d *Downloader) downloadUnknownSize(ctx context.Context, url, dst, display string) error {
	boff := newBackoff(d.cfg.RetryDelay, d.cfg.MaxRetryDelay)
	var lastErr error

	for attempt := 0; attempt < d.cfg.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := d.streamUnknown(ctx, url, dst, display)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < d.cfg.Retries-1 {
			d.console.Finalize("")
			d.console.Logf("[ERROR] Attempt %d: %v", attempt+1, err)
			if !sleepCtx(ctx, boff.Next()) {
				return ctx.Err()
			}
		}
	}
	return &DownloadError{Path: display, Err: lastErr}
}

func (d *Downloader) streamUnknown(ctx context.Context, url, dst, display string) error {
	d.console.Logf("[DOWNLOADING] %s (unknown size)", display)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	d.addHeaders(req)
	resp, err := d.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Status: resp.Status, URL: url}
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	var downloaded int64
	start := time.Now()
	var lastUpdate time.Time
	buf := make([]byte, d.cfg.BufferSize)
	var copyErr error
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				copyErr = werr
				break
			}
			downloaded += int64(n)
			if time.Since(lastUpdate) >= 500*time.Millisecond {
				speed := float64(downloaded) / maxSeconds(time.Since(start))
				d.console.Show(fmt.Sprintf("[DOWNLOADING] %s: %s @ %s/s",
					display, formatBytes(downloaded), formatBytes(int64(speed))))
				d.emit(ProgressEvent{Event: "file_progress", Path: display, Downloaded: downloaded, Total: SizeUnknown})
				lastUpdate = time.Now()
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			copyErr = rerr
			break
		}
	}
	out.Close()
	if copyErr != nil {
		return copyErr
	}

	elapsed := time.Since(start)
	avg := float64(downloaded) / maxSeconds(elapsed)
	d.console.Finalize(fmt.Sprintf("[OK] %s completed (%s) in %s - Avg: %s/s",
		display, formatBytes(downloaded), formatDuration(elapsed), formatBytes(int64(avg))))
	return nil
}
