// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package downloader

import (
	"context"
	"strings"
)

// ScanRepo lists the remote files belonging to a download plan.
//
// When explicit is non-empty it is returned as-is: bundle definitions carry
// their own file lists and need no remote round-trip. Otherwise the
// repository tree is walked and, when subfolder is set, narrowed to files
// under that folder.
func (d *Downloader) ScanRepo(ctx context.Context, repo string, explicit []string, subfolder string) ([]string, error) {
	if repo == "" {
		return nil, ErrMissingRepo
	}
	if !IsValidRepoID(repo) {
		return nil, ErrInvalidRepo
	}
	if len(explicit) > 0 {
		return explicit, nil
	}

	prefix := ""
	if subfolder != "" {
		prefix = strings.TrimSuffix(subfolder, "/") + "/"
	}

	var files []string
	seen := make(map[string]struct{})
	err := d.walkTree(ctx, repo, "", func(n treeNode) error {
		if prefix != "" && !strings.HasPrefix(n.Path, prefix) {
			return nil
		}
		if _, ok := seen[n.Path]; ok {
			return nil
		}
		seen[n.Path] = struct{}{}
		files = append(files, n.Path)

		// The tree walk already carries LFS digests; remember them so the
		// per-file hash lookup is free later.
		if sha := n.sha256Digest(); sha != "" {
			d.hashes.Put(repo, n.Path, sha)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
