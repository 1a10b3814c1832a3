package adaptive

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrOutputExists is returned for an item whose output is already present
// and the batch was not asked to replace it.
var ErrOutputExists = errors.New("adaptive: output already exists")

// BatchMode selects what RunBatch does with each item.
type BatchMode int

const (
	BatchCompress BatchMode = iota
	BatchDecompress
)

// ItemStatus is the outcome of one batch item.
type ItemStatus string

const (
	StatusOK        ItemStatus = "ok"
	StatusWarning   ItemStatus = "warning"
	StatusSkipped   ItemStatus = "skipped"
	StatusFailed    ItemStatus = "failed"
	StatusCancelled ItemStatus = "cancelled"
)

// BatchOptions configures RunBatch.
type BatchOptions struct {
	Mode BatchMode

	// Directory for outputs; empty writes next to each input
	OutputDir string

	// Replace existing outputs
	Force bool
}

// ItemResult is the outcome of one input.
type ItemResult struct {
	Path   string
	Output string
	Status ItemStatus
	Detail string
	Err    error

	BytesIn  int64
	BytesOut int64
}

// BatchReport lists every item in input order.
type BatchReport struct {
	Items []ItemResult
}

// Count returns the number of items with status s.
func (r *BatchReport) Count(s ItemStatus) int {
	n := 0
	for _, item := range r.Items {
		if item.Status == s {
			n++
		}
	}
	return n
}

// Summary returns a one-line tally.
func (r *BatchReport) Summary() string {
	return fmt.Sprintf("%d ok, %d warning, %d skipped, %d failed, %d cancelled",
		r.Count(StatusOK), r.Count(StatusWarning), r.Count(StatusSkipped),
		r.Count(StatusFailed), r.Count(StatusCancelled))
}

// WriteTo prints one line per item followed by the summary.
func (r *BatchReport) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	for _, item := range r.Items {
		fmt.Fprintf(&b, "%-9s %s", item.Status, item.Path)
		if item.Output != "" {
			fmt.Fprintf(&b, " -> %s", item.Output)
		}
		switch {
		case item.Err != nil:
			fmt.Fprintf(&b, ": %v", item.Err)
		case item.Detail != "":
			fmt.Fprintf(&b, " (%s)", item.Detail)
		}
		b.WriteByte('\n')
	}
	b.WriteString(r.Summary())
	b.WriteByte('\n')
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// RunBatch processes paths in order. A failing item never stops the batch.
// Cancelling ctx stops before the next item; finished outputs are kept and
// the remaining items are reported as cancelled.
func (e *Engine) RunBatch(ctx context.Context, paths []string, opts BatchOptions) *BatchReport {
	report := &BatchReport{Items: make([]ItemResult, 0, len(paths))}

	for _, path := range paths {
		if ctx.Err() != nil {
			report.Items = append(report.Items, ItemResult{Path: path, Status: StatusCancelled})
			continue
		}

		var item ItemResult
		if opts.Mode == BatchDecompress {
			item = e.decompressItem(ctx, path, opts)
		} else {
			item = e.compressItem(ctx, path, opts)
		}
		if item.Status == StatusSkipped {
			atomic.AddInt64(&e.stats.FilesSkipped, 1)
		}
		e.log.WithField("path", path).Infof("%s %s", item.Status, item.Detail)
		report.Items = append(report.Items, item)
	}
	return report
}

func (e *Engine) compressItem(ctx context.Context, path string, opts BatchOptions) ItemResult {
	item := ItemResult{Path: path}

	if HasContainerExtension(path) {
		item.Status, item.Detail = StatusSkipped, "already a container"
		return item
	}
	if e.skip != nil && e.skip.MatchString(path) {
		item.Status, item.Detail = StatusSkipped, "matches skip pattern"
		return item
	}
	if e.config.SkipIncompressible {
		prediction, err := e.Predict(path)
		if err != nil {
			item.Status, item.Err = StatusFailed, err
			return item
		}
		if prediction.Decision.Codec == CodecSkip {
			item.Status, item.Detail = StatusSkipped, prediction.Decision.Reason
			return item
		}
	}

	item.Output = outputPath(ContainerPath(path), opts.OutputDir)
	if err := e.checkCollision(item.Output, opts.Force); err != nil {
		item.Status, item.Err = StatusFailed, err
		return item
	}

	result, err := e.CompressFile(ctx, path, item.Output)
	if err != nil {
		item.Status, item.Err = StatusFailed, err
		return item
	}
	item.Status = StatusOK
	item.BytesIn, item.BytesOut = result.OriginalSize, result.ContainerSize
	item.Detail = fmt.Sprintf("%d blocks, %.1f%% saved", result.Blocks,
		GetCompressionPercentage(result.OriginalSize, result.ContainerSize))
	return item
}

func (e *Engine) decompressItem(ctx context.Context, path string, opts BatchOptions) ItemResult {
	item := ItemResult{Path: path, Output: outputPath(RestoredPath(path), opts.OutputDir)}

	if err := e.checkCollision(item.Output, opts.Force); err != nil {
		item.Status, item.Err = StatusFailed, err
		return item
	}

	result, err := e.DecompressFile(ctx, path, item.Output)
	if err != nil {
		item.Status, item.Err = StatusFailed, err
		return item
	}
	item.BytesOut = result.Size
	if len(result.Corrupt) > 0 {
		item.Status = StatusWarning
		item.Detail = fmt.Sprintf("%d of %d blocks failed integrity checks", len(result.Corrupt), result.Blocks)
		return item
	}
	item.Status = StatusOK
	item.Detail = fmt.Sprintf("%d blocks", result.Blocks)
	return item
}

func (e *Engine) checkCollision(path string, force bool) error {
	if force {
		return nil
	}
	if _, err := e.fsys.Stat(path); err == nil {
		return errors.Wrap(ErrOutputExists, path)
	}
	return nil
}

func outputPath(name, dir string) string {
	if dir == "" {
		return name
	}
	return filepath.Join(dir, filepath.Base(name))
}
