// Package sourcecache implements the content-addressed source-audio
// download cache with size/count-bounded eviction.
package sourcecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/soundmaxx-worker/internal/metrics"
)

// ErrEmptySource is returned when a download completes with zero bytes.
type ErrEmptySource struct{ URL string }

func (e *ErrEmptySource) Error() string { return fmt.Sprintf("empty source audio: %s", e.URL) }

// ErrDownload wraps a non-2xx response or transport failure.
type ErrDownload struct {
	URL string
	Err error
}

func (e *ErrDownload) Error() string { return fmt.Sprintf("download failed for %s: %v", e.URL, e.Err) }
func (e *ErrDownload) Unwrap() error { return e.Err }

var knownSuffixes = map[string]bool{
	".wav": true, ".mp3": true, ".flac": true, ".ogg": true,
	".aac": true, ".m4a": true, ".aif": true, ".aiff": true,
}

const (
	downloadChunkSize = 1 << 20 // 1 MiB
	downloadTimeout   = 120 * time.Second
)

// Cache is a content-addressed, size/count-bounded download cache rooted
// at a single directory. Eviction is serialized by a per-Cache mutex;
// stat/link reads require no locking.
type Cache struct {
	root      string
	maxBytes  int64
	maxFiles  int
	pruneMu   sync.Mutex
	client    *http.Client
}

// New constructs a Cache rooted at root. maxBytes or maxFiles of 0
// disables that eviction dimension.
func New(root string, maxBytes int64, maxFiles int) *Cache {
	return &Cache{
		root:     root,
		maxBytes: maxBytes,
		maxFiles: maxFiles,
		client:   &http.Client{Timeout: downloadTimeout},
	}
}

// keyFor computes the cache file name for sourceURL: sha256 of
// scheme://host/path, plus a suffix derived from the URL path extension.
func keyFor(sourceURL string) (string, error) {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return "", fmt.Errorf("sourcecache: invalid URL %q: %w", sourceURL, err)
	}
	canon := fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, u.Path)
	sum := sha256.Sum256([]byte(canon))
	suffix := strings.ToLower(filepath.Ext(u.Path))
	if !knownSuffixes[suffix] {
		suffix = ".wav"
	}
	return hex.EncodeToString(sum[:]) + suffix, nil
}

// Stage ensures sourceURL is materialized at destPath, using the cache
// when warm or downloading and populating it otherwise.
func (c *Cache) Stage(ctx context.Context, sourceURL, destPath string) error {
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return fmt.Errorf("sourcecache: create cache root: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("sourcecache: create dest dir: %w", err)
	}

	name, err := keyFor(sourceURL)
	if err != nil {
		return err
	}
	cachePath := filepath.Join(c.root, name)

	if fi, err := os.Stat(cachePath); err == nil && fi.Size() > 0 {
		metrics.SourceCacheHitsTotal.Inc()
		return linkOrCopy(cachePath, destPath)
	}

	metrics.SourceCacheMissesTotal.Inc()
	tmpPath := fmt.Sprintf("%s.tmp-%d-%s", cachePath, os.Getpid(), uuid.NewString())
	if err := c.download(ctx, sourceURL, tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, cachePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sourcecache: rename into place: %w", err)
	}

	c.prune()

	return linkOrCopy(cachePath, destPath)
}

func (c *Cache) download(ctx context.Context, sourceURL, tmpPath string) error {
	dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return &ErrDownload{URL: sourceURL, Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &ErrDownload{URL: sourceURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ErrDownload{URL: sourceURL, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("sourcecache: create temp file: %w", err)
	}
	defer f.Close()

	var total int64
	buf := make([]byte, downloadChunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return fmt.Errorf("sourcecache: write temp file: %w", werr)
			}
			total += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return &ErrDownload{URL: sourceURL, Err: rerr}
		}
	}

	if total == 0 {
		return &ErrEmptySource{URL: sourceURL}
	}
	return nil
}

func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("sourcecache: open cache entry: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("sourcecache: create dest: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("sourcecache: copy cache entry: %w", err)
	}
	return nil
}

// prune enforces the size/count bounds, evicting the oldest files by
// modification time first. It never returns an error; deletion failures
// are skipped, not retried.
func (c *Cache) prune() {
	c.pruneMu.Lock()
	defer c.pruneMu.Unlock()

	entries, err := os.ReadDir(c.root)
	if err != nil {
		return
	}

	type fileInfo struct {
		path    string
		size    int64
		modTime time.Time
	}
	files := make([]fileInfo, 0, len(entries))
	var totalBytes int64
	for _, e := range entries {
		if e.IsDir() || strings.Contains(e.Name(), ".tmp-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			path:    filepath.Join(c.root, e.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		totalBytes += info.Size()
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	count := len(files)
	idx := 0
	for (c.maxFiles > 0 && count > c.maxFiles) || (c.maxBytes > 0 && totalBytes > c.maxBytes) {
		if idx >= len(files) {
			break
		}
		f := files[idx]
		idx++
		if err := os.Remove(f.path); err != nil {
			continue
		}
		count--
		totalBytes -= f.size
	}
}
