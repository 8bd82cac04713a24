// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package downloader

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const verifyBufferSize = 8 << 20

// verifySHA256 computes the SHA-256 of a local file, rendering progress on
// the console, and compares it to the expected digest.
func (d *Downloader) verifySHA256(path, expected, display string) error {
	if expected == "" {
		d.console.Log("[WARNING] No SHA256 available for verification")
		return nil
	}
	if display == "" {
		display = path
	}
	d.console.Logf("[VERIFYING] Computing SHA256 for %s...", display)

	f, err := os.Open(path)
	if err != nil {
		d.console.Finalize("")
		return err
	}
	defer f.Close()

	var total int64
	if fi, err := f.Stat(); err == nil {
		total = fi.Size()
	}

	h := sha256.New()
	buf := make([]byte, verifyBufferSize)
	var read int64
	start := time.Now()
	var lastUpdate time.Time

	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			read += int64(n)
			if time.Since(lastUpdate) >= 200*time.Millisecond {
				pct := 0.0
				if total > 0 {
					pct = float64(read) / float64(total) * 100
				}
				speed := float64(read) / maxSeconds(time.Since(start))
				d.console.Show(fmt.Sprintf("[VERIFYING] %s: %.1f%% (%s/%s) %s/s",
					display, pct, formatBytes(read), formatBytes(total), formatBytes(int64(speed))))
				lastUpdate = time.Now()
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			d.console.Finalize("")
			return rerr
		}
	}

	computed := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(computed, expected) {
		d.console.Finalize("[ERROR] SHA256 mismatch!")
		d.console.Logf("  Expected: %s", expected)
		d.console.Logf("  Got:      %s", computed)
		return &VerificationError{Path: path, Expected: expected, Actual: computed}
	}

	d.console.Finalize(fmt.Sprintf("[VERIFIED] SHA256 match: %s...", computed[:16]))
	return nil
}
