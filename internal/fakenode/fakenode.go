// Package fakenode builds a stand-in bitcoind for tests.
package fakenode

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
)

var (
	buildOnce sync.Once
	buildDir  string
	buildPath string
	buildErr  error
	buildOut  []byte
)

func source() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata", "fakenode.go")
}

// Build compiles the fake daemon once per test binary and returns its path.
func Build(tb testing.TB) string {
	tb.Helper()

	buildOnce.Do(func() {
		buildDir, buildErr = os.MkdirTemp("", "fakenode-")
		if buildErr != nil {
			return
		}
		buildPath = filepath.Join(buildDir, "bitcoind")
		if runtime.GOOS == "windows" {
			buildPath += ".exe"
		}
		cmd := exec.Command("go", "build", "-o", buildPath, source())
		buildOut, buildErr = cmd.CombinedOutput()
	})
	if buildErr != nil {
		tb.Fatalf("Failed to build fake node: %v: %s", buildErr, buildOut)
	}
	return buildPath
}

// Run runs the tests and removes the built binary afterwards. Use it from
// TestMain: os.Exit(fakenode.Run(m)).
func Run(m *testing.M) int {
	code := m.Run()
	if buildDir != "" {
		os.RemoveAll(buildDir)
	}
	return code
}
