// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package downloader

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Above this output size the merge switches to a bulk-copy strategy with a
// much larger buffer and per-chunk progress granularity. Variable so tests
// can exercise both strategies without gigabyte fixtures.
var largeMergeThreshold int64 = 1 << 30

const (
	mergeBufferSize = 64 << 20  // buffered strategy
	bulkBufferSize  = 128 << 20 // bulk strategy
)

// mergeChunks concatenates the n chunk files into the destination, in index
// order. Output is assembled in a temporary file next to the destination and
// swapped in only on success; on any failure the temporary file is removed
// and the chunk files are left intact for a future resume.
func (d *Downloader) mergeChunks(dst string, n int) error {
	store := newChunkStore(dst)

	var total int64
	sizes := make([]int64, n)
	for i := 0; i < n; i++ {
		size, ok := store.Size(i)
		if !ok {
			return &MergeError{Path: dst, Err: fmt.Errorf("missing chunk %d", i)}
		}
		sizes[i] = size
		total += size
	}

	tmp := store.TempPath()
	var err error
	if total > largeMergeThreshold {
		err = d.mergeBulk(store, tmp, sizes, total)
	} else {
		err = d.mergeBuffered(store, tmp, sizes, total)
	}
	if err != nil {
		d.console.Finalize("")
		os.Remove(tmp)
		return &MergeError{Path: dst, Err: err}
	}

	// Replace any pre-existing destination, then drop the chunks.
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		os.Remove(tmp)
		return &MergeError{Path: dst, Err: err}
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return &MergeError{Path: dst, Err: err}
	}
	store.RemoveAll(n)
	return nil
}

// mergeBuffered copies chunk files through a fixed buffer, emitting progress
// twice a second.
func (d *Downloader) mergeBuffered(store chunkStore, tmp string, sizes []int64, total int64) error {
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer out.Close()

	buf := make([]byte, mergeBufferSize)
	var merged int64
	start := time.Now()
	var lastUpdate time.Time

	for i := range sizes {
		in, err := os.Open(store.Path(i))
		if err != nil {
			return err
		}
		for {
			n, rerr := in.Read(buf)
			if n > 0 {
				if _, werr := out.Write(buf[:n]); werr != nil {
					in.Close()
					return werr
				}
				merged += int64(n)
				if time.Since(lastUpdate) >= 500*time.Millisecond {
					d.showMergeProgress(merged, total, start)
					lastUpdate = time.Now()
				}
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				in.Close()
				return rerr
			}
		}
		in.Close()
	}

	if err := out.Close(); err != nil {
		return err
	}
	d.finalizeMergeLine(total, start)
	return nil
}

// mergeBulk is the strategy for very large outputs: one big CopyBuffer per
// chunk, progress reported at chunk granularity.
func (d *Downloader) mergeBulk(store chunkStore, tmp string, sizes []int64, total int64) error {
	d.console.Logf("[MERGING] Using bulk merge for large file (%s)", formatBytes(total))

	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer out.Close()

	buf := make([]byte, bulkBufferSize)
	var merged int64
	start := time.Now()
	var lastUpdate time.Time

	for i := range sizes {
		if time.Since(lastUpdate) >= 500*time.Millisecond {
			d.console.Show(fmt.Sprintf("[MERGING] Chunk %d/%d (%s/%s)",
				i+1, len(sizes), formatBytes(merged), formatBytes(total)))
			lastUpdate = time.Now()
		}

		in, err := os.Open(store.Path(i))
		if err != nil {
			return err
		}
		if _, err := io.CopyBuffer(out, in, buf); err != nil {
			in.Close()
			return err
		}
		in.Close()
		merged += sizes[i]
	}

	if err := out.Close(); err != nil {
		return err
	}
	d.finalizeMergeLine(total, start)
	return nil
}

func (d *Downloader) showMergeProgress(merged, total int64, start time.Time) {
	pct := 0.0
	if total > 0 {
		pct = float64(merged) / float64(total) * 100
	}
	speed := float64(merged) / maxSeconds(time.Since(start))
	d.console.Show(fmt.Sprintf("[MERGING] %.1f%% (%s/%s) Speed: %s/s",
		pct, formatBytes(merged), formatBytes(total), formatBytes(int64(speed))))
}

func (d *Downloader) finalizeMergeLine(total int64, start time.Time) {
	elapsed := time.Since(start)
	avg := float64(total) / maxSeconds(elapsed)
	d.console.Finalize(fmt.Sprintf("[MERGING] 100.0%% (%s/%s) Completed in %s - Avg: %s/s",
		formatBytes(total), formatBytes(total), formatDuration(elapsed), formatBytes(int64(avg))))
}

func maxSeconds(d time.Duration) float64 {
	s := d.Seconds()
	if s < 0.001 {
		return 0.001
	}
	return s
}
