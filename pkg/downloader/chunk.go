// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
)

// chunkStore manages the on-disk partial-chunk files for one target file.
// Chunk files are named deterministically from the destination path plus the
// chunk index; external tools must check a chunk's size against its planned
// range before assuming it complete.
type chunkStore struct {
	dst string
}

func newChunkStore(dst string) chunkStore {
	return chunkStore{dst: dst}
}

func (s chunkStore) Path(index int) string {
	return fmt.Sprintf("%s.part%d", s.dst, index)
}

// Size returns the chunk file's current size, or ok=false when it does not
// exist.
func (s chunkStore) Size(index int) (int64, bool) {
	fi, err := os.Stat(s.Path(index))
	if err != nil {
		return 0, false
	}
	return fi.Size(), true
}

func (s chunkStore) Remove(index int) error {
	return os.Remove(s.Path(index))
}

// RemoveAll deletes the chunk files for indices [0, n). Used after a
// successful merge; errors are ignored because the merged output already
// exists.
func (s chunkStore) RemoveAll(n int) {
	for i := 0; i < n; i++ {
		os.Remove(s.Path(i))
	}
}

// TempPath is where the merger assembles output before the atomic replace.
func (s chunkStore) TempPath() string {
	return s.dst + ".tmp"
}

// downloadChunk downloads one byte range into its chunk file, resuming from
// any valid partial data. Idempotent: a chunk file already at its expected
// size short-circuits to success. A chunk file larger than its range is
// corrupt and restarts from zero. Retries with exponential backoff up to the
// configured attempt ceiling; exhaustion is a permanent ChunkError.
func (d *Downloader) downloadChunk(ctx context.Context, url string, ch chunkRange, store chunkStore, progress func(index int, downloaded int64)) error {
	expected := ch.size()
	chunkFile := store.Path(ch.Index)

	resumePos := int64(0)
	if have, ok := store.Size(ch.Index); ok {
		switch {
		case have == expected:
			if progress != nil {
				progress(ch.Index, expected)
			}
			return nil
		case have > expected:
			// Corrupted chunk, delete and restart
			d.log.Debug().Int("chunk", ch.Index).Int64("size", have).Int64("expected", expected).
				Msg("chunk file larger than planned range, discarding")
			os.Remove(chunkFile)
		default:
			resumePos = have
		}
	}

	boff := newBackoff(d.cfg.RetryDelay, d.cfg.MaxRetryDelay)
	var lastErr error

	for attempt := 0; attempt < d.cfg.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		resumePos, lastErr = d.streamChunk(ctx, url, ch, chunkFile, resumePos, progress)
		if lastErr == nil {
			return nil
		}

		if attempt < d.cfg.Retries-1 {
			d.log.Debug().Int("chunk", ch.Index).Int("attempt", attempt+1).Err(lastErr).
				Msg("chunk attempt failed, backing off")
			if !sleepCtx(ctx, boff.Next()) {
				return ctx.Err()
			}
		}
	}

	return &ChunkError{Index: ch.Index, Err: fmt.Errorf("after %d attempts: %w", d.cfg.Retries, lastErr)}
}

// streamChunk performs one ranged GET attempt. It returns the resume
// position for the next attempt along with the attempt's error: a short
// stream keeps its bytes and resumes, an over-long chunk file is deleted so
// the next attempt restarts from zero.
func (d *Downloader) streamChunk(ctx context.Context, url string, ch chunkRange, chunkFile string, resumePos int64, progress func(int, int64)) (int64, error) {
	expected := ch.size()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return resumePos, err
	}
	d.addHeaders(req)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", ch.Start+resumePos, ch.End))

	resp, err := d.httpc.Do(req)
	if err != nil {
		return resumePos, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return resumePos, &APIError{StatusCode: resp.StatusCode, Status: resp.Status, URL: url}
	}

	flag := os.O_WRONLY | os.O_CREATE
	if resumePos > 0 {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}
	out, err := os.OpenFile(chunkFile, flag, 0o644)
	if err != nil {
		return resumePos, err
	}

	downloaded := resumePos
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
			if progress != nil {
				progress(ch.Index, downloaded)
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

	// Re-check the file itself: the size comparison is the corruption signal.
	final := int64(0)
	if fi, err := os.Stat(chunkFile); err == nil {
		final = fi.Size()
	}
	if final > expected {
		os.Remove(chunkFile)
		return 0, fmt.Errorf("chunk too large: %d/%d bytes", final, expected)
	}
	if copyErr != nil {
		return final, copyErr
	}
	if final < expected {
		return final, fmt.Errorf("chunk incomplete: %d/%d bytes", final, expected)
	}
	if progress != nil {
		progress(ch.Index, expected)
	}
	return final, nil
}
