// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package downloader

// chunkRange is one contiguous byte range [Start, End], inclusive on both
// ends to match the Range request header format.
type chunkRange struct {
	Index int
	Start int64
	End   int64
}

func (c chunkRange) size() int64 {
	return c.End - c.Start + 1
}

// planChunks splits total bytes into n non-overlapping ranges covering
// [0, total). All ranges are equal size except the last, which absorbs the
// remainder. Degenerates to a single range when total is too small to split.
func planChunks(total int64, n int) []chunkRange {
	if n <= 0 {
		n = 1
	}
	base := total / int64(n)
	if base <= 0 {
		n = 1
	}

	ranges := make([]chunkRange, 0, n)
	for i := 0; i < n; i++ {
		start := int64(i) * base
		end := start + base - 1
		if i == n-1 {
			end = total - 1
		}
		ranges = append(ranges, chunkRange{Index: i, Start: start, End: end})
	}
	return ranges
}
