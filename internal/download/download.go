// Package download fetches and verifies bitcoind release binaries.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/mvp-joe/nodefixture/internal/version"
)

// Environment variables read by FromEnv.
const (
	EndpointEnv    = "BITCOIND_DOWNLOAD_ENDPOINT"
	TarballFileEnv = "BITCOIND_TARBALL_FILE"
	SumsFileEnv    = "BITCOIND_SHA256SUMS_FILE"
)

const (
	// DefaultEndpoint is the official release mirror.
	DefaultEndpoint = "https://bitcoincore.org/bin"

	// SumsFile is the manifest name in every release directory.
	SumsFile = "SHA256SUMS"

	maxRetries     = 3
	initialBackoff = 1 * time.Second
	lockRetry      = 100 * time.Millisecond
)

// Options configure Ensure.
type Options struct {
	Version version.Version

	// CacheDir holds bitcoin-<version>/bin/bitcoind. Defaults to the user
	// cache directory.
	CacheDir string

	// Endpoint is the base URL of release directories.
	Endpoint string

	// TarballFile, when set, is used instead of downloading the archive.
	TarballFile string

	// SumsFile, when set, is used instead of downloading SHA256SUMS.
	SumsFile string

	// Progress receives a progress bar while downloading; nil disables it.
	Progress io.Writer

	HTTPClient *http.Client
	Logger     *zap.Logger

	// Backoff is the first retry delay, doubled on each retry.
	Backoff time.Duration

	// GOOS and GOARCH select the archive; they default to the running platform.
	GOOS   string
	GOARCH string
}

// FromEnv fills unset endpoint and offline-file options from the environment.
func (o Options) FromEnv() Options {
	if o.Endpoint == "" {
		o.Endpoint = os.Getenv(EndpointEnv)
	}
	if o.TarballFile == "" {
		o.TarballFile = os.Getenv(TarballFileEnv)
	}
	if o.SumsFile == "" {
		o.SumsFile = os.Getenv(SumsFileEnv)
	}
	return o
}

func (o *Options) setDefaults() error {
	if o.Version.IsZero() {
		return ErrNoVersion
	}
	if o.CacheDir == "" {
		dir, err := DefaultCacheDir()
		if err != nil {
			return err
		}
		o.CacheDir = dir
	}
	if o.Endpoint == "" {
		o.Endpoint = DefaultEndpoint
	}
	o.Endpoint = strings.TrimSuffix(o.Endpoint, "/")
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Minute}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Backoff <= 0 {
		o.Backoff = initialBackoff
	}
	if o.GOOS == "" {
		o.GOOS = runtime.GOOS
	}
	if o.GOARCH == "" {
		o.GOARCH = runtime.GOARCH
	}
	return nil
}

// DefaultCacheDir returns <user cache dir>/nodefixture.
func DefaultCacheDir() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user cache directory: %w", err)
	}
	return filepath.Join(dir, "nodefixture"), nil
}

// ExecutablePath returns where Ensure installs the daemon for opts.
func ExecutablePath(cacheDir string, v version.Version, goos string) string {
	return filepath.Join(cacheDir, "bitcoin-"+v.String(), "bin", ExecutableName(goos))
}

// URL returns the download URL of a release file.
func URL(endpoint string, v version.Version, file string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(endpoint, "/"), ReleaseDir(v), file)
}

// Ensure returns the path of a verified bitcoind for opts.Version, downloading
// and extracting it into the cache when missing. Concurrent callers, including
// other processes, serialize on a lock file in the cache directory.
func Ensure(ctx context.Context, opts Options) (string, error) {
	if err := opts.setDefaults(); err != nil {
		return "", err
	}

	target := ExecutablePath(opts.CacheDir, opts.Version, opts.GOOS)
	if fileExists(target) {
		return target, nil
	}

	if err := os.MkdirAll(opts.CacheDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	lock := flock.New(filepath.Join(opts.CacheDir, fmt.Sprintf(".bitcoin-%s.lock", opts.Version)))
	locked, err := lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return "", fmt.Errorf("failed to acquire cache lock: %w", err)
	}
	if !locked {
		return "", fmt.Errorf("failed to acquire cache lock: %s", lock.Path())
	}
	defer lock.Unlock()

	// Another process may have finished while we waited.
	if fileExists(target) {
		return target, nil
	}

	if err := install(ctx, opts, target); err != nil {
		return "", err
	}
	return target, nil
}

func install(ctx context.Context, opts Options, target string) error {
	archive, err := ArchiveName(opts.Version, opts.GOOS, opts.GOARCH)
	if err != nil {
		return err
	}

	sums, err := loadSums(ctx, opts)
	if err != nil {
		return err
	}

	archivePath := opts.TarballFile
	if archivePath == "" {
		tmp, err := os.CreateTemp("", "bitcoin-*-"+archive)
		if err != nil {
			return fmt.Errorf("failed to create temp file: %w", err)
		}
		defer func() {
			tmp.Close()
			os.Remove(tmp.Name())
		}()

		url := URL(opts.Endpoint, opts.Version, archive)
		opts.Logger.Info("downloading bitcoind", zap.String("url", url))
		if err := downloadWithRetry(ctx, opts, url, tmp, opts.Progress); err != nil {
			return fmt.Errorf("failed to download %s: %w", archive, err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("failed to close temp file: %w", err)
		}
		archivePath = tmp.Name()
	}

	if err := sums.Verify(archive, archivePath); err != nil {
		return err
	}

	binDir := filepath.Dir(target)
	if err := os.MkdirAll(binDir, 0755); err != nil {
		return fmt.Errorf("failed to create install directory: %w", err)
	}

	// Extract next to the target and rename so a partial file is never
	// visible at the final path.
	partial := target + ".partial"
	defer os.Remove(partial)
	if err := extractExecutable(archivePath, strings.HasSuffix(archive, ".zip"), ExecutableName(opts.GOOS), partial); err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	if err := os.Rename(partial, target); err != nil {
		return fmt.Errorf("failed to install %s: %w", target, err)
	}

	opts.Logger.Info("installed bitcoind", zap.String("path", target), zap.Stringer("version", opts.Version))
	return nil
}

func loadSums(ctx context.Context, opts Options) (Sums, error) {
	if opts.SumsFile != "" {
		f, err := os.Open(opts.SumsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open checksum manifest: %w", err)
		}
		defer f.Close()
		return ParseSums(f)
	}

	tmp, err := os.CreateTemp("", "SHA256SUMS-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	url := URL(opts.Endpoint, opts.Version, SumsFile)
	if err := downloadWithRetry(ctx, opts, url, tmp, nil); err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", SumsFile, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind checksum manifest: %w", err)
	}
	return ParseSums(tmp)
}

// downloadWithRetry downloads a file with exponential backoff retry logic
func downloadWithRetry(ctx context.Context, opts Options, url string, dest *os.File, progress io.Writer) error {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * opts.Backoff
			opts.Logger.Debug("retrying download", zap.String("url", url), zap.Int("attempt", attempt+1), zap.Error(lastErr))

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := downloadWithProgress(ctx, opts.HTTPClient, url, dest, progress)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrNotFound) {
			return err
		}

		// Reset file position for retry
		if _, err := dest.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to reset file position: %w", err)
		}
		if err := dest.Truncate(0); err != nil {
			return fmt.Errorf("failed to truncate file: %w", err)
		}
	}

	return fmt.Errorf("download failed after %d attempts: %w", maxRetries, lastErr)
}

func downloadWithProgress(ctx context.Context, client *http.Client, url string, dest io.Writer, progress io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	w := dest
	if progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(progress),
			progressbar.OptionSetDescription("Downloading "+filepath.Base(url)),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(progress)
			}),
		)
		defer bar.Finish()
		w = io.MultiWriter(dest, bar)
	}

	written, err := io.Copy(w, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		return fmt.Errorf("incomplete download: got %d bytes, expected %d", written, resp.ContentLength)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
