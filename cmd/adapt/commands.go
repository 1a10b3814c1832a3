package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/pkg/errors"

	"github.com/absfs/adaptive"
)

func runCompress(ctx context.Context, env *environment, args []string) error {
	return runBatch(ctx, env, args, adaptive.BatchCompress)
}

func runDecompress(ctx context.Context, env *environment, args []string) error {
	return runBatch(ctx, env, args, adaptive.BatchDecompress)
}

func runBatch(ctx context.Context, env *environment, args []string, mode adaptive.BatchMode) error {
	if len(args) == 0 {
		return errors.New("no input files")
	}
	if env.opts.outputDir != "" {
		if err := os.MkdirAll(env.opts.outputDir, 0o755); err != nil {
			return errors.Wrap(err, "creating output directory")
		}
	}

	report := env.engine.RunBatch(ctx, args, adaptive.BatchOptions{
		Mode:      mode,
		OutputDir: env.opts.outputDir,
		Force:     env.opts.force,
	})
	if _, err := report.WriteTo(env.stdout); err != nil {
		return err
	}
	if report.Count(adaptive.StatusFailed) > 0 || report.Count(adaptive.StatusCancelled) > 0 {
		return errIncomplete
	}
	return nil
}

func runInspect(_ context.Context, env *environment, args []string) error {
	if len(args) == 0 {
		return errors.New("no containers given")
	}

	failed := false
	for _, path := range args {
		info, err := inspect(path)
		if err != nil {
			fmt.Fprintf(env.stdout, "%s: failed: %v\n", path, err)
			failed = true
			continue
		}

		fmt.Fprintf(env.stdout, "%s: %d bytes, header offset %d\n", path, info.Size, info.HeaderOffset)
		printCopy(env, "tail", info.Tail, info.TailErr)
		printCopy(env, "header", info.Header, info.HeaderErr)
		fmt.Fprintf(env.stdout, "  parity: %v\n", info.Parity)

		manifest, err := info.Manifest()
		if err != nil {
			failed = true
			continue
		}
		tw := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  ID\tLABEL\tALGO\tSTART\tEND\tORIGINAL\tCRC32")
		for _, b := range manifest {
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%d\t%d\t%d\t%08x\n",
				b.ID, b.Label, b.Algorithm, b.Start, b.End, b.OriginalSize, b.Checksum)
		}
		tw.Flush()
	}
	if failed {
		return errIncomplete
	}
	return nil
}

func inspect(path string) (*adaptive.ContainerInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &adaptive.FileAccessError{Path: path, Err: err}
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, &adaptive.FileAccessError{Path: path, Err: err}
	}
	return adaptive.InspectContainer(f, st.Size()), nil
}

func printCopy(env *environment, name string, m adaptive.Manifest, err error) {
	if err != nil {
		fmt.Fprintf(env.stdout, "  %s manifest: %v\n", name, err)
		return
	}
	fmt.Fprintf(env.stdout, "  %s manifest: %d blocks, %d bytes original\n", name, len(m), m.OriginalSize())
}

func runPredict(_ context.Context, env *environment, args []string) error {
	if len(args) == 0 {
		return errors.New("no input files")
	}

	failed := false
	for _, path := range args {
		p, err := env.engine.Predict(path)
		if err != nil {
			fmt.Fprintf(env.stdout, "%s: failed: %v\n", path, err)
			failed = true
			continue
		}
		fv := p.Features

		fmt.Fprintf(env.stdout, "%s: %s (%s)\n", path, p.Decision.Codec, p.Decision.Reason)
		fmt.Fprintf(env.stdout, "  size %d bytes, entropy %.2f, repetition %.4f, text %v\n",
			fv.SizeBytes, fv.Entropy, fv.Repetition, fv.IsText)
		if fv.Visual.IsMedia() {
			fmt.Fprintf(env.stdout, "  media %s %dx%d\n", fv.Visual.Format, fv.Visual.Width, fv.Visual.Height)
		}
		fmt.Fprintf(env.stdout, "  priority %s\n", p.Decision.Priority)

		excluded := make([]string, 0, len(p.Decision.Excluded))
		for id, why := range p.Decision.Excluded {
			excluded = append(excluded, fmt.Sprintf("%s: %s", id, why))
		}
		sort.Strings(excluded)
		for _, line := range excluded {
			fmt.Fprintf(env.stdout, "  excluded %s\n", line)
		}

		if len(p.Decision.Scores) > 0 {
			tw := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "  CODEC\tRATIO\tSIZE\tTIME\tSCORE")
			for _, s := range p.Decision.Scores {
				fmt.Fprintf(tw, "  %s\t%.3f\t%.0f\t%s\t%.1f\n",
					s.Codec, s.ExpectedRatio, s.ExpectedSize, adaptive.FormatDuration(s.ExpectedTime), s.Score)
			}
			tw.Flush()
		}
		fmt.Fprintf(env.stdout, "  transfer %s -> %s\n",
			adaptive.FormatDuration(p.TransferOriginal), adaptive.FormatDuration(p.TransferCompressed))
	}
	if failed {
		return errIncomplete
	}
	return nil
}

func runCalibrate(ctx context.Context, env *environment, args []string) error {
	if len(args) > 0 {
		return errors.Errorf("unexpected argument %q", args[0])
	}
	cfg := env.engine.Config()

	calibrator := adaptive.NewCalibrator(cfg.Codecs, env.log)
	if err := <-cfg.Calibration.Refresh(ctx, calibrator); err != nil {
		return errors.Wrap(err, "calibrating")
	}
	table := cfg.Calibration.Load()

	tw := tabwriter.NewWriter(env.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "calibration version %d\n", table.Version())
	fmt.Fprintln(tw, "CODEC\tRATIO\tMB/S")
	for _, id := range table.Codecs() {
		perf, _ := table.Lookup(id)
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\n", id, perf.RatioFactor, perf.SpeedMBps)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	path := env.opts.save
	if path == "" {
		path = env.file.CalibrationFile
	}
	if path == "" {
		return nil
	}
	if err := adaptive.SaveCalibration(path, table); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "saved %s\n", path)
	return nil
}

func runVerify(ctx context.Context, env *environment, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return errors.New("usage: adapt verify CONTAINER [ORIGINAL]")
	}
	original := ""
	if len(args) == 2 {
		original = args[1]
	}

	result, err := env.engine.Verify(ctx, args[0], original)
	if err != nil {
		return err
	}

	fmt.Fprintf(env.stdout, "%s: blake3 %s\n", result.Container, result.ContainerHash)
	if original != "" {
		fmt.Fprintf(env.stdout, "%s: blake3 %s\n", result.Original, result.OriginalHash)
	}
	fmt.Fprintf(env.stdout, "manifest parity: %v\n", result.ManifestParity)
	for _, c := range result.Corrupt {
		fmt.Fprintf(env.stdout, "damaged: %v\n", c)
	}
	if !result.Match {
		fmt.Fprintln(env.stdout, "MISMATCH")
		return errIncomplete
	}
	fmt.Fprintln(env.stdout, "OK")
	return nil
}
