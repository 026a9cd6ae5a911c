// Package fetcher resolves package URLs to files in a local download cache.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openboots/openboots/pkg/manifest"
	"github.com/openboots/openboots/pkg/telemetry"
)

// DefaultGraceDelay is how long Fetch waits after closing a freshly written
// file before handing the path to an installer. Windows installers fail if
// the source file still has an open handle; the delay absorbs lagging
// filesystem filters (antivirus) re-opening the file after close.
const DefaultGraceDelay = 500 * time.Millisecond

// Fetcher downloads package payloads into a cache directory.
type Fetcher struct {
	cacheDir   string
	httpClient *http.Client
	graceDelay time.Duration
	log        *telemetry.Logger
	metrics    *telemetry.Metrics
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient overrides the HTTP client (tests).
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.httpClient = c }
}

// WithGraceDelay overrides the post-write grace delay.
func WithGraceDelay(d time.Duration) Option {
	return func(f *Fetcher) { f.graceDelay = d }
}

// WithMetrics counts cache hits and downloads on the given collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// New creates a Fetcher rooted at cacheDir, creating it if needed.
func New(cacheDir string, log *telemetry.Logger, opts ...Option) (*Fetcher, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", cacheDir, err)
	}
	f := &Fetcher{
		cacheDir:   cacheDir,
		httpClient: &http.Client{Timeout: 30 * time.Minute},
		graceDelay: DefaultGraceDelay,
		log:        log,
		metrics:    telemetry.NewMetrics(telemetry.MetricsConfig{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// CacheDir returns the cache root.
func (f *Fetcher) CacheDir() string {
	return f.cacheDir
}

// CachePath returns the local path a package resolves to.
func (f *Fetcher) CachePath(pkg *manifest.Package) string {
	return filepath.Join(f.cacheDir, filepath.Base(pkg.File))
}

// Fetch resolves pkg to a local file. When forceRefresh is false and the
// destination file already exists the network is not touched at all; this
// cache-hit behavior is part of the contract, repeated runs against an
// unchanged manifest must not re-download.
func (f *Fetcher) Fetch(ctx context.Context, pkg *manifest.Package, forceRefresh bool) (string, error) {
	dest := f.CachePath(pkg)

	if !forceRefresh {
		if _, err := os.Stat(dest); err == nil {
			f.log.Debug().Str("package", pkg.Name).Str("path", dest).Msg("cache hit, skipping download")
			f.metrics.RecordCacheHit()
			return dest, nil
		}
	}

	if err := f.download(ctx, pkg, dest); err != nil {
		return "", err
	}
	f.metrics.RecordDownload()

	// Let the write handle fully settle before an installer opens the file.
	select {
	case <-time.After(f.graceDelay):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return dest, nil
}

// Purge empties the cache directory. Called before any fetch when a forced
// re-download of all packages was requested.
func (f *Fetcher) Purge() error {
	entries, err := os.ReadDir(f.cacheDir)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(f.cacheDir, e.Name())); err != nil {
			return fmt.Errorf("failed to remove cached file %s: %w", e.Name(), err)
		}
	}
	f.log.Info().Str("dir", f.cacheDir).Msg("download cache purged")
	return nil
}

// download writes the payload to a temp file, verifies the optional hash,
// and renames it into place so a partial download never satisfies a later
// cache hit.
func (f *Fetcher) download(ctx context.Context, pkg *manifest.Package, dest string) error {
	f.log.Info().Str("package", pkg.Name).Str("url", pkg.URL).Msg("downloading package")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pkg.URL, nil)
	if err != nil {
		return fmt.Errorf("invalid package url %s: %w", pkg.URL, err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", pkg.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download of %s returned status %d", pkg.URL, resp.StatusCode)
	}

	tmp := dest + ".partial"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(out, hasher), resp.Body)
	if err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to flush %s: %w", tmp, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}

	// Hash verification is fail-open only in its absence: a declared hash
	// that mismatches is a hard fetch failure.
	if pkg.Hash != "" {
		got := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(got, pkg.Hash) {
			os.Remove(tmp)
			return fmt.Errorf("hash mismatch for %s: got %s, want %s", pkg.Name, got, pkg.Hash)
		}
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move %s into cache: %w", tmp, err)
	}

	f.log.Debug().Str("package", pkg.Name).Int64("bytes", n).Str("path", dest).Msg("download complete")
	return nil
}
