package version

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/maypok86/otter"
)

// DetectTimeout bounds one `-version` invocation.
const DetectTimeout = 10 * time.Second

// Runner executes `exe -version` and returns its combined output.
type Runner func(ctx context.Context, exe string) ([]byte, error)

// Detector runs executables once per (path, mtime) and caches the parsed
// version, so concurrent fixtures using the same binary don't each fork it.
type Detector struct {
	cache otter.Cache[string, Version]
	run   Runner
}

// NewDetector creates a Detector. A nil runner executes the binary.
func NewDetector(run Runner) (*Detector, error) {
	if run == nil {
		run = execVersion
	}
	cache, err := otter.MustBuilder[string, Version](256).
		WithTTL(time.Hour).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build version cache: %w", err)
	}
	return &Detector{cache: cache, run: run}, nil
}

// Detect returns the version of exe.
func (d *Detector) Detect(ctx context.Context, exe string) (Version, error) {
	key := exe
	if info, err := os.Stat(exe); err == nil {
		key = fmt.Sprintf("%s@%d", exe, info.ModTime().UnixNano())
	}
	if v, ok := d.cache.Get(key); ok {
		return v, nil
	}

	ctx, cancel := context.WithTimeout(ctx, DetectTimeout)
	defer cancel()

	out, err := d.run(ctx, exe)
	if err != nil {
		return Version{}, fmt.Errorf("failed to run %s -version: %w", exe, err)
	}
	v, err := Parse(string(out))
	if err != nil {
		return Version{}, err
	}
	d.cache.Set(key, v)
	return v, nil
}

func execVersion(ctx context.Context, exe string) ([]byte, error) {
	return exec.CommandContext(ctx, exe, "-version").CombinedOutput()
}
