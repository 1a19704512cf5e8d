// Package nodetest starts nodes scoped to a test.
package nodetest

import (
	"context"
	"errors"
	"testing"

	"github.com/mvp-joe/nodefixture/pkg/node"
)

// New starts a node for the duration of tb, resolving the executable with
// node.ExePath. The test is skipped when no bitcoind can be found. A nil conf
// means node.DefaultConf.
func New(tb testing.TB, conf *node.Conf) *node.Node {
	tb.Helper()

	exe, err := node.ExePath(context.Background())
	if err != nil {
		var resErr *node.ResolutionError
		if errors.As(err, &resErr) {
			tb.Skipf("bitcoind not available: %v", err)
		}
		tb.Fatalf("Failed to resolve bitcoind: %v", err)
	}
	return NewWithExe(tb, exe, conf)
}

// NewWithExe starts a node from exe for the duration of tb. Teardown runs
// from tb.Cleanup; a teardown failure is logged and does not fail the test.
func NewWithExe(tb testing.TB, exe string, conf *node.Conf) *node.Node {
	tb.Helper()

	n, err := node.New(context.Background(), exe, conf)
	if err != nil {
		tb.Fatalf("Failed to start node: %v", err)
	}
	tb.Cleanup(func() {
		if err := n.Close(); err != nil {
			tb.Logf("Failed to tear down node: %v", err)
		}
	})
	return n
}
