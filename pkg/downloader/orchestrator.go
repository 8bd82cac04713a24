// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalName is the relative local name a target is saved under: the explicit
// rename when set, otherwise the remote path with the scanned subfolder
// prefix stripped.
func (t Target) LocalName(dest Destination) string {
	if dest.Filename != "" {
		return dest.Filename
	}
	name := t.RemotePath
	if t.Subfolder != "" {
		name = strings.TrimPrefix(name, strings.TrimSuffix(t.Subfolder, "/")+"/")
	}
	return name
}

// DownloadFile downloads one remote file to its local destination, skipping
// work the filesystem and caches prove already done.
//
// Decision sequence: resolve the expected hash (best effort), probe the
// remote size, judge any existing local file (skip, re-verify, or discard as
// corrupt), then pick the unknown-size, parallel, or single-stream path.
// Every successful download ends with a hash gate when a digest is known:
// mismatch deletes the artifact and fails, match is recorded in the
// verified-files cache.
func (d *Downloader) DownloadFile(ctx context.Context, target Target, dest Destination) error {
	if !IsValidRepoID(target.Repo) {
		return ErrInvalidRepo
	}

	localName := target.LocalName(dest)
	localPath := filepath.Join(dest.Dir, filepath.FromSlash(localName))
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return &DownloadError{Path: localName, Err: err}
	}

	url := d.fileURL(target.Repo, target.RemotePath)

	expectedSHA := d.expectedHash(ctx, target.Repo, target.RemotePath)
	if expectedSHA != "" {
		d.console.Logf("[INFO] Expected SHA256: %s...", expectedSHA[:16])
	}

	// Fast skip: a verified-cache hit needs no remote round-trip at all.
	if _, err := os.Stat(localPath); err == nil && expectedSHA != "" {
		if d.verified.IsVerified(target.Repo, target.RemotePath, localPath, expectedSHA) {
			d.console.Logf("[SKIP] %s already complete and verified (cached)", localName)
			d.emit(ProgressEvent{Event: "file_done", Repo: target.Repo, Path: localName, Message: "skip (verified cache)"})
			return nil
		}
	}

	size, sizeErr := d.remoteSize(ctx, url)
	sizeKnown := sizeErr == nil && size != SizeUnknown

	if fi, err := os.Stat(localPath); err == nil {
		done, err := d.judgeExisting(target, localName, localPath, fi.Size(), size, sizeKnown, expectedSHA)
		if err != nil {
			return err
		}
		if done {
			d.emit(ProgressEvent{Event: "file_done", Repo: target.Repo, Path: localName, Message: "skip"})
			return nil
		}
	}

	if sizeErr != nil {
		d.console.Logf("[ERROR] Cannot get size for %s", localName)
		d.emit(ProgressEvent{Event: "file_failed", Repo: target.Repo, Path: localName, Message: sizeErr.Error()})
		return &DownloadError{Path: localName, Err: sizeErr}
	}

	d.emit(ProgressEvent{Event: "file_start", Repo: target.Repo, Path: localName, Total: size})

	var dlErr error
	switch {
	case size == SizeUnknown:
		d.console.Logf("[INFO] %s size is unknowable in transit, downloading without size info", localName)
		dlErr = d.downloadUnknownSize(ctx, url, localPath, localName)
	case size > d.cfg.ParallelThreshold:
		dlErr = d.downloadParallel(ctx, url, localPath, localName, size)
	default:
		dlErr = d.downloadSingle(ctx, url, localPath, localName, size)
	}
	if dlErr != nil {
		d.emit(ProgressEvent{Event: "file_failed", Repo: target.Repo, Path: localName, Message: dlErr.Error()})
		return dlErr
	}

	if expectedSHA != "" {
		if err := d.verifySHA256(localPath, expectedSHA, localName); err != nil {
			d.console.Logf("[ERROR] %s downloaded but failed SHA256 verification", localName)
			os.Remove(localPath)
			d.emit(ProgressEvent{Event: "file_failed", Repo: target.Repo, Path: localName, Message: err.Error()})
			return err
		}
		d.verified.MarkVerified(target.Repo, target.RemotePath, localPath, expectedSHA)
	}

	d.emit(ProgressEvent{Event: "file_done", Repo: target.Repo, Path: localName})
	return nil
}

// judgeExisting decides what to do with a local file that already exists:
// done=true means the file is acceptable and the download is skipped; a
// false return with nil error means the caller should proceed to download
// (a corrupt or failed file has been deleted).
func (d *Downloader) judgeExisting(target Target, localName, localPath string, localSize, remoteSize int64, sizeKnown bool, expectedSHA string) (bool, error) {
	if sizeKnown {
		switch {
		case localSize == remoteSize:
			if expectedSHA == "" {
				d.console.Logf("[SKIP] %s already complete (%s)", localName, formatBytes(localSize))
				return true, nil
			}
			if err := d.verifySHA256(localPath, expectedSHA, localName); err == nil {
				d.verified.MarkVerified(target.Repo, target.RemotePath, localPath, expectedSHA)
				d.console.Logf("[SKIP] %s already complete and verified (%s)", localName, formatBytes(localSize))
				return true, nil
			}
			d.console.Logf("[WARNING] %s failed verification, re-downloading", localName)
			os.Remove(localPath)
		case localSize > remoteSize:
			d.console.Logf("[WARNING] %s corrupted, re-downloading", localName)
			os.Remove(localPath)
		}
		// Smaller than expected: leave in place, the download path resumes it.
		return false, nil
	}

	// Size unknowable: fall back to hash verification for non-trivial files,
	// and accept hash-less files as-is. The unconditional accept is a
	// deliberate best-effort policy for files whose size cannot be probed.
	if localSize > 1024 {
		if expectedSHA != "" {
			if d.verified.IsVerified(target.Repo, target.RemotePath, localPath, expectedSHA) {
				d.console.Logf("[SKIP] %s exists and verified (cached) (%s)", localName, formatBytes(localSize))
				return true, nil
			}
			if err := d.verifySHA256(localPath, expectedSHA, localName); err == nil {
				d.verified.MarkVerified(target.Repo, target.RemotePath, localPath, expectedSHA)
				d.console.Logf("[SKIP] %s exists and verified (%s)", localName, formatBytes(localSize))
				return true, nil
			}
			d.console.Logf("[WARNING] %s failed verification, re-downloading", localName)
			os.Remove(localPath)
			return false, nil
		}
		d.console.Logf("[SKIP] %s exists (%s)", localName, formatBytes(localSize))
		return true, nil
	}
	return false, nil
}

// DownloadAll runs a batch: a verification pre-pass over files that already
// exist locally, then downloads for everything else. Individual failures are
// counted, never fatal to the batch.
func (d *Downloader) DownloadAll(ctx context.Context, repo string, files []string, destDir, subfolder string) BatchResult {
	var res BatchResult
	var queue []Target

	for _, remote := range files {
		target := Target{Repo: repo, RemotePath: remote, Subfolder: subfolder}
		localName := target.LocalName(Destination{Dir: destDir})
		localPath := filepath.Join(destDir, filepath.FromSlash(localName))

		fi, err := os.Stat(localPath)
		if err != nil || fi.Size() <= 1024 {
			queue = append(queue, target)
			continue
		}

		expectedSHA := d.expectedHash(ctx, repo, remote)
		if expectedSHA == "" {
			// Nothing to verify against; trust the existing file.
			res.Skipped++
			continue
		}
		if d.verified.IsVerified(repo, remote, localPath, expectedSHA) {
			d.console.Logf("[SKIP] %s already verified (cached)", localName)
			res.Skipped++
			continue
		}
		if err := d.verifySHA256(localPath, expectedSHA, localName); err == nil {
			d.verified.MarkVerified(repo, remote, localPath, expectedSHA)
			res.Skipped++
			continue
		}
		d.console.Logf("[RE-DOWNLOAD] %s failed verification", localName)
		queue = append(queue, target)
	}

	d.console.Logf("Total files: %d", len(files))
	if res.Skipped > 0 {
		d.console.Logf("Already downloaded: %d", res.Skipped)
	}
	if len(queue) == 0 {
		d.console.Log("All files already downloaded!")
		return res
	}
	d.console.Logf("To download: %d", len(queue))

	for i, target := range queue {
		localName := target.LocalName(Destination{Dir: destDir})
		d.console.Logf("[%d/%d] Downloading %s", i+1, len(queue), localName)
		if err := d.DownloadFile(ctx, target, Destination{Dir: destDir}); err != nil {
			if errors.Is(err, context.Canceled) {
				res.Failed += len(queue) - i
				res.FailedFiles = append(res.FailedFiles, target.RemotePath)
				break
			}
			res.Failed++
			res.FailedFiles = append(res.FailedFiles, target.RemotePath)
			d.console.Logf("[FAILED] %s", localName)
			continue
		}
		res.Downloaded++
	}
	return res
}

// Summary renders the end-of-batch report.
func (r BatchResult) Summary() string {
	s := fmt.Sprintf("Summary:\n  Already had: %d\n  Downloaded: %d\n  Failed: %d",
		r.Skipped, r.Downloaded, r.Failed)
	for _, f := range r.FailedFiles {
		s += "\n    " + f
	}
	return s
}
