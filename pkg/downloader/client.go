// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultEndpoint is the default Hugging Face Hub URL. Override via
// Settings.Endpoint for mirrors.
const DefaultEndpoint = "https://huggingface.co"

const userAgent = "comfyui-runpod-installer/1"

// buildHTTPClient creates a pooled HTTP client. RequestTimeout bounds dialing
// and the wait for response headers; body reads for 100 GB weights must not
// be capped by a whole-request deadline.
func buildHTTPClient(cfg Settings) *http.Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: tr}
}

func (d *Downloader) addHeaders(req *http.Request) {
	if d.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.Token)
	}
	req.Header.Set("User-Agent", userAgent)
}

// fileURL builds the direct download URL for a file on the main revision.
func (d *Downloader) fileURL(repo, remotePath string) string {
	return fmt.Sprintf("%s/%s/resolve/main/%s",
		strings.TrimSuffix(d.cfg.Endpoint, "/"), repo, pathEscapeAll(remotePath))
}

func (d *Downloader) treeURL(repo, prefix string) string {
	ep := strings.TrimSuffix(d.cfg.Endpoint, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/api/models/%s/tree/main", ep, repo)
	}
	return fmt.Sprintf("%s/api/models/%s/tree/main/%s", ep, repo, pathEscapeAll(prefix))
}

// repo IDs contain "/" which must stay literal; escape each path segment.
func pathEscapeAll(p string) string {
	segs := strings.Split(p, "/")
	for i := range segs {
		segs[i] = url.PathEscape(segs[i])
	}
	return strings.Join(segs, "/")
}

// remoteSize probes a file's total size: HEAD first, then a 1-byte ranged GET
// for servers that reject HEAD. Chunked or compressed transports make the
// length unknowable ahead of time and yield SizeUnknown.
func (d *Downloader) remoteSize(ctx context.Context, urlStr string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, urlStr, nil)
	if err != nil {
		return 0, err
	}
	d.addHeaders(req)
	if resp, err := d.httpc.Do(req); err == nil {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK && resp.ContentLength > 0 {
			return resp.ContentLength, nil
		}
	}

	// Ranged fallback
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return 0, err
	}
	d.addHeaders(req)
	req.Header.Set("Range", "bytes=0-0")
	resp, err := d.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPartialContent {
		if cr := resp.Header.Get("Content-Range"); strings.Contains(cr, "/") {
			total := cr[strings.LastIndex(cr, "/")+1:]
			if n, err := strconv.ParseInt(total, 10, 64); err == nil {
				return n, nil
			}
		}
	}

	// Chunked/compressed responses cannot be sized without downloading.
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") ||
		transferChunked(resp) {
		return SizeUnknown, nil
	}

	return 0, fmt.Errorf("%w: %s", ErrSizeUnavailable, resp.Status)
}

func transferChunked(resp *http.Response) bool {
	for _, te := range resp.TransferEncoding {
		if strings.EqualFold(te, "chunked") {
			return true
		}
	}
	return strings.EqualFold(resp.Header.Get("Transfer-Encoding"), "chunked")
}

// expectedHash resolves the SHA-256 digest for repo/filename, best-effort.
// The hash cache is consulted first; then the ETag of the resolve URL (the
// hub surfaces the content hash there for LFS files); then the tree API's
// LFS metadata. Absence is not an error.
func (d *Downloader) expectedHash(ctx context.Context, repo, filename string) string {
	if sha, ok := d.hashes.Get(repo, filename); ok {
		return sha
	}

	if sha := d.hashFromETag(ctx, repo, filename); sha != "" {
		d.hashes.Put(repo, filename, sha)
		return sha
	}

	if sha := d.hashFromTree(ctx, repo, filename); sha != "" {
		d.hashes.Put(repo, filename, sha)
		return sha
	}

	d.log.Warn().Str("file", filename).Msg("no sha256 available from remote metadata")
	return ""
}

func (d *Downloader) hashFromETag(ctx context.Context, repo, filename string) string {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, d.fileURL(repo, filename), nil)
	if err != nil {
		return ""
	}
	d.addHeaders(req)
	resp, err := d.httpc.Do(req)
	if err != nil {
		return ""
	}
	resp.Body.Close()

	for _, header := range []string{"X-Linked-ETag", "ETag"} {
		if sha := digestFromETag(resp.Header.Get(header)); sha != "" {
			return sha
		}
	}
	return ""
}

// digestFromETag extracts a 64-hex digest from a quoted, optionally
// weak-prefixed ETag value.
func digestFromETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)
	if isHexDigest(etag) {
		return etag
	}
	return ""
}

func isHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// treeNode is a file or directory entry from the hub tree API.
type treeNode struct {
	Type string `json:"type"` // "file"|"directory" (sometimes "blob"|"tree")
	Path string `json:"path"`
	Size int64  `json:"size,omitempty"`
	LFS  *struct {
		Oid    string `json:"oid,omitempty"`
		Size   int64  `json:"size,omitempty"`
		Sha256 string `json:"sha256,omitempty"`
	} `json:"lfs,omitempty"`
}

func (n treeNode) isFile() bool {
	return n.Type == "file" || n.Type == "blob"
}

// sha256Digest returns the node's content hash, preferring the explicit LFS
// sha256 and falling back to the LFS OID (the hub stores the digest there).
func (n treeNode) sha256Digest() string {
	if n.LFS == nil {
		return ""
	}
	if isHexDigest(n.LFS.Sha256) {
		return n.LFS.Sha256
	}
	if isHexDigest(n.LFS.Oid) {
		return n.LFS.Oid
	}
	return ""
}

// walkTree recursively walks the repository tree, calling fn for each file.
func (d *Downloader) walkTree(ctx context.Context, repo, prefix string, fn func(treeNode) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.treeURL(repo, prefix), nil)
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
		return &APIError{StatusCode: resp.StatusCode, Status: resp.Status, URL: req.URL.String()}
	}

	var nodes []treeNode
	if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
		return err
	}

	for _, n := range nodes {
		if n.isFile() {
			if err := fn(n); err != nil {
				return err
			}
			continue
		}
		if err := d.walkTree(ctx, repo, n.Path, fn); err != nil {
			return err
		}
	}
	return nil
}

// hashFromTree queries the tree API for the file's parent directory and
// reads the LFS digest, the side-channel used when the ETag is not a
// content hash.
func (d *Downloader) hashFromTree(ctx context.Context, repo, filename string) string {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	prefix := ""
	if i := strings.LastIndex(filename, "/"); i >= 0 {
		prefix = filename[:i]
	}

	var sha string
	found := fmt.Errorf("found")
	err := d.walkTree(ctx, repo, prefix, func(n treeNode) error {
		if n.Path == filename {
			sha = n.sha256Digest()
			return found
		}
		return nil
	})
	if err != nil && err != found {
		return ""
	}
	return sha
}
