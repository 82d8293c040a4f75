package dfs

import (
	"context"
	"fmt"
	"time"

	"github.com/dfsio/parfs/internal/logger"
	"github.com/dfsio/parfs/pkg/collective"
)

// SizeSentinel is returned by GetFileSize when the local lookup or size
// read fails. Unlike session and transfer failures this is non-fatal: the
// caller receives the sentinel plus the error and decides what to do.
const SizeSentinel = -1

// GetFileSize reports the run-wide aggregate size for a benchmark target.
//
// Every worker reads its locally observed size, then the group combines
// them. With per-process files the sizes are summed into total bytes across
// the run. With a shared file the group reduces with both min and max: a
// mismatch means workers observed different sizes for what should be one
// consistent file. That consistency violation is logged as a warning (on
// the coordinator only, to avoid N copies) and the minimum is reported,
// a conservative value that is at least the same on every worker.
func (s *Session) GetFileSize(ctx context.Context, path string, perProcessFile bool) (size int64, err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation("GetFileSize", time.Since(start), err)
	}()

	obj, err := s.mount.Lookup(ctx, path)
	if err != nil {
		return SizeSentinel, fmt.Errorf("lookup %q: %w", path, err)
	}
	size, err = obj.Size(ctx)
	obj.Close(ctx)
	if err != nil {
		return SizeSentinel, fmt.Errorf("size of %q: %w", path, err)
	}

	if perProcessFile {
		total, rerr := s.comm.AllReduce(ctx, size, collective.Sum)
		if rerr != nil {
			return SizeSentinel, fmt.Errorf("reduce per-process sizes: %w", rerr)
		}
		return total, nil
	}

	minSize, rerr := s.comm.AllReduce(ctx, size, collective.Min)
	if rerr != nil {
		return SizeSentinel, fmt.Errorf("reduce shared size (min): %w", rerr)
	}
	maxSize, rerr := s.comm.AllReduce(ctx, size, collective.Max)
	if rerr != nil {
		return SizeSentinel, fmt.Errorf("reduce shared size (max): %w", rerr)
	}

	if minSize != maxSize {
		if s.role == RoleCoordinator {
			logger.Warn("inconsistent file size for %q across workers: min=%d max=%d, reporting min",
				path, minSize, maxSize)
		}
		return minSize, nil
	}
	return maxSize, nil
}
