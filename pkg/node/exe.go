package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/mvp-joe/nodefixture/internal/download"
	"github.com/mvp-joe/nodefixture/internal/version"
)

// Environment variables consulted during executable resolution.
const (
	ExeEnv     = "BITCOIND_EXE"
	VersionEnv = "BITCOIND_VERSION"
)

// Resolver locates the daemon executable.
type Resolver struct {
	// Explicit wins over everything else.
	Explicit string

	// Version selects a release artifact; defaults to BITCOIND_VERSION.
	Version string
	// AutoDownload fetches the selected release when it is not cached.
	AutoDownload bool
	// Download configures the artifact cache and mirror.
	Download download.Options

	// LookPath defaults to exec.LookPath.
	LookPath func(file string) (string, error)
}

// ExePath resolves the daemon executable from the environment: BITCOIND_EXE,
// then the release selected by BITCOIND_VERSION (downloading it if needed),
// then bitcoind on PATH.
func ExePath(ctx context.Context) (string, error) {
	return Resolver{AutoDownload: true}.Resolve(ctx)
}

// Resolve tries, in order: Explicit, BITCOIND_EXE, the selected release
// artifact, and bitcoind on PATH.
func (r Resolver) Resolve(ctx context.Context) (string, error) {
	if r.Explicit != "" {
		return r.Explicit, nil
	}
	if exe := os.Getenv(ExeEnv); exe != "" {
		return exe, nil
	}

	var tried []string
	var lastErr error

	selected := r.Version
	if selected == "" {
		selected = os.Getenv(VersionEnv)
	}
	if selected != "" {
		path, err := r.artifact(ctx, selected)
		if err == nil {
			return path, nil
		}
		tried = append(tried, "release "+selected)
		lastErr = err
	}

	lookPath := r.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	path, err := lookPath(download.ExecutableName(runtime.GOOS))
	if err == nil {
		return path, nil
	}
	tried = append(tried, "PATH")
	if lastErr == nil {
		lastErr = err
	}

	return "", &ResolutionError{Tried: append([]string{ExeEnv}, tried...), Err: lastErr}
}

var errNotCached = errors.New("release not cached and auto download disabled")

func (r Resolver) artifact(ctx context.Context, selected string) (string, error) {
	v, err := version.Parse(selected)
	if err != nil {
		return "", fmt.Errorf("invalid %s %q: %w", VersionEnv, selected, err)
	}

	opts := r.Download.FromEnv()
	opts.Version = v
	if opts.CacheDir == "" {
		dir, err := download.DefaultCacheDir()
		if err != nil {
			return "", err
		}
		opts.CacheDir = dir
	}

	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	path := download.ExecutablePath(opts.CacheDir, v, goos)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if !r.AutoDownload {
		return "", fmt.Errorf("%w: %s", errNotCached, path)
	}
	return download.Ensure(ctx, opts)
}
