// Package cloud implements existence checkers for expected output paths.
//
// LocalChecker probes the local filesystem; GCSChecker probes Google Cloud
// Storage objects addressed as gs:// URLs. Both implement
// flow.ExistenceChecker.
package cloud

import (
	"context"
	"fmt"
	"os"

	"github.com/stageflow/stageflow-go/flow"
)

// LocalChecker checks paths on the local filesystem.
type LocalChecker struct{}

var _ flow.ExistenceChecker = LocalChecker{}

// NewLocalChecker creates a filesystem checker.
func NewLocalChecker() LocalChecker {
	return LocalChecker{}
}

// Exists reports whether the path exists. Permission and IO failures are
// returned as errors rather than treated as missing, so a flaky filesystem
// never silently causes work to be requeued.
func (LocalChecker) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}
