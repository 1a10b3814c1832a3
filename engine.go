package adaptive

import (
	"context"
	"encoding/hex"
	"hash/crc32"
	"io"
	"regexp"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// Engine compresses files into containers and restores them.
type Engine struct {
	fsys       FileSystem
	config     *Config
	bridge     *CodecBridge
	aggregator *BlockAggregator
	skip       *regexp.Regexp
	log        logrus.FieldLogger
	stats      Stats
}

// New creates an engine over fsys. A nil config uses DefaultConfig.
func New(fsys FileSystem, config *Config) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := config.withDefaults()

	for name, size := range map[string]int{
		"window size":         cfg.WindowSize,
		"max block size":      cfg.MaxBlockSize,
		"content-defined max": cfg.ContentDefinedMax,
	} {
		if size > maxOriginalSize {
			return nil, errors.Errorf("adaptive: %s %d exceeds the %d byte block limit", name, size, maxOriginalSize)
		}
	}
	if err := cfg.Policy.Validate(cfg.Codecs); err != nil {
		return nil, err
	}
	skip, err := compileSkipPatterns(cfg.SkipPatterns)
	if err != nil {
		return nil, errors.Wrap(err, "compiling skip patterns")
	}

	return &Engine{
		fsys:       fsys,
		config:     cfg,
		bridge:     NewCodecBridge(cfg.Codecs, cfg.Policy, cfg.CodecTimeout, cfg.Logger),
		aggregator: NewBlockAggregator(cfg.MaxBlockSize),
		skip:       skip,
		log:        cfg.Logger,
	}, nil
}

// Config returns the engine's resolved configuration.
func (e *Engine) Config() *Config {
	return e.config
}

// CompressResult summarises one compressed file.
type CompressResult struct {
	Source        string
	Output        string
	OriginalSize  int64
	ContainerSize int64
	Blocks        int
	Algorithms    map[AlgoTag]int
	Digest        string // BLAKE3 of the source, hex
}

// Ratio returns container size over original size.
func (r *CompressResult) Ratio() float64 {
	return GetCompressionRatio(r.OriginalSize, r.ContainerSize)
}

// CompressFile writes src as a container at dst. The container is built
// next to dst and renamed into place, so a failed run leaves any existing
// dst untouched.
func (e *Engine) CompressFile(ctx context.Context, src, dst string) (result *CompressResult, err error) {
	info, err := e.fsys.Stat(src)
	if err != nil {
		return nil, &FileAccessError{Path: src, Err: err}
	}
	if info.IsDir() {
		return nil, &FileAccessError{Path: src, Err: errors.New("is a directory")}
	}

	out, tmp, err := createTemp(e.fsys, dst)
	if err != nil {
		return nil, &FileAccessError{Path: dst, Err: err}
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "closing %s", dst)
		}
		if rerr := replaceFile(e.fsys, tmp, dst, err != nil); rerr != nil {
			err = &FileAccessError{Path: dst, Err: rerr}
		}
		if err != nil {
			result = nil
			atomic.AddInt64(&e.stats.FilesFailed, 1)
			return
		}
		atomic.AddInt64(&e.stats.FilesCompressed, 1)
	}()

	result, err = e.compress(ctx, src, out)
	if err != nil {
		return nil, err
	}
	result.Output = dst
	return result, nil
}

// CompressTo writes src as a container to w.
func (e *Engine) CompressTo(ctx context.Context, src string, w io.WriteSeeker) (*CompressResult, error) {
	return e.compress(ctx, src, w)
}

func (e *Engine) compress(ctx context.Context, src string, w io.WriteSeeker) (*CompressResult, error) {
	// An in-flight file always completes; cancellation is honoured between
	// files.
	ctx = context.WithoutCancel(ctx)
	log := e.log.WithField("path", src)

	cw, err := NewContainerWriter(w)
	if err != nil {
		return nil, err
	}

	var opts []SlicerOption
	opts = append(opts, WithWindowSize(e.config.WindowSize))
	if e.config.ContentDefinedMin > 0 {
		opts = append(opts, WithContentDefined(e.config.ContentDefinedMin, e.config.ContentDefinedMax))
	}
	slicer := NewWindowSlicer(e.fsys, src, opts...)

	result := &CompressResult{Source: src, Algorithms: make(map[AlgoTag]int)}
	hasher := blake3.New()

	for block, err := range e.aggregator.Aggregate(slicer.Chunks()) {
		if err != nil {
			return nil, err
		}
		hasher.Write(block.Data)

		data, tag := e.bridge.Compress(ctx, block)
		entry, err := cw.WriteBlock(data, block.Label, tag, block.Checksum, block.Size)
		if err != nil {
			return nil, err
		}

		log.WithFields(logrus.Fields{
			"block": entry.ID,
			"label": block.Label,
			"algo":  tag,
		}).Debugf("block %d -> %d bytes", block.Size, len(data))

		result.OriginalSize += int64(block.Size)
		result.Blocks++
		result.Algorithms[tag]++
		atomic.AddInt64(&e.stats.BlocksWritten, 1)
		e.stats.IncrementAlgorithmCount(tag)
	}

	if err := cw.Close(); err != nil {
		return nil, err
	}

	result.ContainerSize = int64(cw.Size())
	result.Digest = hex.EncodeToString(hasher.Sum(nil))
	atomic.AddInt64(&e.stats.BytesIn, result.OriginalSize)
	atomic.AddInt64(&e.stats.BytesOut, result.ContainerSize)
	return result, nil
}

// DecompressResult summarises one restored container.
type DecompressResult struct {
	Source  string
	Output  string
	Size    int64
	Blocks  int
	Digest  string // BLAKE3 of the restored bytes, hex
	Corrupt []*IntegrityError
}

// DecompressFile restores the container at src into dst. Integrity
// failures leave dst in place unless StrictIntegrity is set. Like
// CompressFile it writes through a temporary file, so an existing dst
// survives a failed restore.
func (e *Engine) DecompressFile(ctx context.Context, src, dst string) (result *DecompressResult, err error) {
	out, tmp, err := createTemp(e.fsys, dst)
	if err != nil {
		return nil, &FileAccessError{Path: dst, Err: err}
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "closing %s", dst)
		}
		if rerr := replaceFile(e.fsys, tmp, dst, err != nil); rerr != nil {
			err = &FileAccessError{Path: dst, Err: rerr}
		}
		if err != nil {
			result = nil
		}
	}()

	result, err = e.DecompressTo(ctx, src, out)
	if err != nil {
		return nil, err
	}
	result.Output = dst
	return result, nil
}

// DecompressTo restores the container at src into w. Blocks that fail
// their checksum are still written; blocks that cannot be decoded are
// written as zeros of their original size. Each failure is logged and
// listed in the result. With StrictIntegrity the first failure is
// returned as an error instead.
func (e *Engine) DecompressTo(ctx context.Context, src string, w io.Writer) (*DecompressResult, error) {
	ctx = context.WithoutCancel(ctx)
	log := e.log.WithField("path", src)

	f, err := openRead(e.fsys, src)
	if err != nil {
		return nil, &FileAccessError{Path: src, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &FileAccessError{Path: src, Err: err}
	}
	ra := readerAt(f)

	manifest, err := ReadManifest(ra, info.Size())
	if err != nil {
		atomic.AddInt64(&e.stats.FilesFailed, 1)
		return nil, err
	}

	result := &DecompressResult{Source: src}
	hasher := blake3.New()
	out := io.MultiWriter(w, hasher)

	for _, block := range manifest {
		data, ierr := e.decodeBlock(ctx, ra, block)
		if ierr != nil {
			atomic.AddInt64(&e.stats.IntegrityFailures, 1)
			log.WithFields(logrus.Fields{
				"block": block.ID,
				"label": block.Label,
				"algo":  block.Algorithm,
			}).WithError(ierr).Warn("integrity check failed")
			if e.config.StrictIntegrity {
				atomic.AddInt64(&e.stats.FilesFailed, 1)
				return nil, ierr
			}
			result.Corrupt = append(result.Corrupt, ierr)
		}

		n, err := out.Write(data)
		result.Size += int64(n)
		if err != nil {
			return nil, errors.Wrapf(err, "writing block %d", block.ID)
		}
		result.Blocks++
	}

	result.Digest = hex.EncodeToString(hasher.Sum(nil))
	atomic.AddInt64(&e.stats.FilesDecompressed, 1)
	return result, nil
}

// decodeBlock returns the block's bytes and, on failure, an
// IntegrityError. Undecodable blocks come back as zeros.
func (e *Engine) decodeBlock(ctx context.Context, ra io.ReaderAt, block CompressedBlock) ([]byte, *IntegrityError) {
	stored := make([]byte, block.StoredSize())
	if _, err := ra.ReadAt(stored, int64(block.Start)); err != nil && err != io.EOF {
		return make([]byte, block.OriginalSize), &IntegrityError{BlockID: block.ID, Expected: block.Checksum, Err: err}
	}

	data, err := e.bridge.Decompress(ctx, stored, block.Algorithm)
	if err != nil {
		return make([]byte, block.OriginalSize), &IntegrityError{BlockID: block.ID, Expected: block.Checksum, Err: err}
	}

	if uint64(len(data)) != block.OriginalSize {
		err := errors.Errorf("decoded %d bytes, want %d", len(data), block.OriginalSize)
		return make([]byte, block.OriginalSize), &IntegrityError{BlockID: block.ID, Expected: block.Checksum, Err: err}
	}
	if actual := crc32.ChecksumIEEE(data); actual != block.Checksum {
		return data, &IntegrityError{BlockID: block.ID, Expected: block.Checksum, Actual: actual}
	}
	return data, nil
}

// VerifyResult compares a container against its source.
type VerifyResult struct {
	Container      string
	Original       string
	ContainerHash  string
	OriginalHash   string
	Match          bool
	Corrupt        []*IntegrityError
	ManifestParity bool
}

// Verify decodes the container without writing it and checks every block.
// When original is not empty its BLAKE3 digest must match the restored
// bytes.
func (e *Engine) Verify(ctx context.Context, container, original string) (*VerifyResult, error) {
	f, err := openRead(e.fsys, container)
	if err != nil {
		return nil, &FileAccessError{Path: container, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &FileAccessError{Path: container, Err: err}
	}
	parity := InspectContainer(readerAt(f), info.Size()).Parity
	f.Close()

	restored, err := e.DecompressTo(ctx, container, io.Discard)
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{
		Container:      container,
		Original:       original,
		ContainerHash:  restored.Digest,
		Corrupt:        restored.Corrupt,
		ManifestParity: parity,
		Match:          len(restored.Corrupt) == 0,
	}
	if original == "" {
		return result, nil
	}

	digest, err := fileDigest(e.fsys, original)
	if err != nil {
		return nil, err
	}
	result.OriginalHash = digest
	result.Match = result.Match && digest == restored.Digest
	return result, nil
}

func fileDigest(fsys FileSystem, path string) (string, error) {
	f, err := openRead(fsys, path)
	if err != nil {
		return "", &FileAccessError{Path: path, Err: err}
	}
	defer f.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", &FileAccessError{Path: path, Err: err}
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Prediction is the DecisionEngine's view of one file.
type Prediction struct {
	Path     string
	Features *FeatureVector
	Context  DecisionContext
	Decision Decision

	// Estimated transfer seconds before and after compression
	TransferOriginal   float64
	TransferCompressed float64
}

// Predict analyses path and asks the DecisionEngine for a whole-file codec
// under the configured constraints and the current calibration snapshot.
func (e *Engine) Predict(path string) (*Prediction, error) {
	fv, err := Analyze(e.fsys, path)
	if err != nil {
		return nil, err
	}

	cfg := e.config
	dc := NewDecisionContext(cfg.Priority, cfg.MaxTimeSeconds, cfg.NetworkAware, cfg.Telemetry)
	decision := NewDecisionEngine(cfg.Calibration.Load()).Explain(fv, dc)

	_, kbps := cfg.Telemetry.NetworkStatus()
	if kbps <= 0 {
		kbps = DefaultLinkKbps
	}
	expected := fv.SizeBytes
	for _, s := range decision.Scores {
		if s.Codec == decision.Codec {
			expected = int64(s.ExpectedSize)
		}
	}

	return &Prediction{
		Path:               path,
		Features:           fv,
		Context:            dc,
		Decision:           decision,
		TransferOriginal:   EstimateTransfer(fv.SizeBytes, kbps, DefaultLossRate),
		TransferCompressed: EstimateTransfer(expected, kbps, DefaultLossRate),
	}, nil
}

// GetStats returns a copy of the counters
func (e *Engine) GetStats() *Stats {
	return &Stats{
		FilesCompressed:   atomic.LoadInt64(&e.stats.FilesCompressed),
		FilesDecompressed: atomic.LoadInt64(&e.stats.FilesDecompressed),
		FilesSkipped:      atomic.LoadInt64(&e.stats.FilesSkipped),
		FilesFailed:       atomic.LoadInt64(&e.stats.FilesFailed),
		BlocksWritten:     atomic.LoadInt64(&e.stats.BlocksWritten),
		BytesIn:           atomic.LoadInt64(&e.stats.BytesIn),
		BytesOut:          atomic.LoadInt64(&e.stats.BytesOut),
		IntegrityFailures: atomic.LoadInt64(&e.stats.IntegrityFailures),
	}
}

// AlgorithmCount returns how many blocks were written with tag.
func (e *Engine) AlgorithmCount(tag AlgoTag) int64 {
	return e.stats.GetAlgorithmCount(tag)
}
