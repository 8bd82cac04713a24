// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package downloader

import (
	"fmt"
	"time"
)

// formatBytes renders a byte count with one decimal and a binary-stepped
// unit, matching the console output format used across the installer.
func formatBytes(n int64) string {
	if n < 0 {
		return "0 B"
	}
	v := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if v < 1024.0 {
			return fmt.Sprintf("%.1f %s", v, unit)
		}
		v /= 1024.0
	}
	return fmt.Sprintf("%.1f TB", v)
}

// formatDuration renders a duration as "32s", "4m 12s" or "2h 5m".
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "0s"
	}
	s := int64(d.Seconds())
	switch {
	case s < 60:
		return fmt.Sprintf("%ds", s)
	case s < 3600:
		if s%60 == 0 {
			return fmt.Sprintf("%dm", s/60)
		}
		return fmt.Sprintf("%dm %ds", s/60, s%60)
	default:
		h, m := s/3600, (s%3600)/60
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh %dm", h, m)
	}
}
