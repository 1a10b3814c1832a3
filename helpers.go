package adaptive

import (
	"context"
	"time"
)

// Preset configurations for common use cases

// FastestConfig returns a configuration optimized for speed
func FastestConfig() *Config {
	cfg := DefaultConfig()
	cfg.Policy = Policy{
		LabelText:             {{"lz4", LevelFast}, {"snappy", LevelFast}},
		LabelImage:            {{"snappy", LevelFast}},
		LabelMixedBinary:      {{"lz4", LevelFast}, {"snappy", LevelFast}},
		LabelBinaryCompressed: {},
	}
	cfg.Priority = PrioritySpeed
	cfg.CodecTimeout = 5 * time.Second
	return cfg
}

// RecommendedConfig returns the recommended configuration for general use
// It is DefaultConfig with already-compressed media skipped in batches
func RecommendedConfig() *Config {
	cfg := DefaultConfig()
	cfg.SkipIncompressible = true
	cfg.SkipPatterns = []string{
		// Already compressed formats
		`\.(zip|gz|bz2|xz|7z|rar)$`, // Archives
		`\.(zst|lz4|br|sz|snappy)$`, // Compressed
		`\.adapt$`,                  // Containers
	}
	return cfg
}

// BestCompressionConfig returns a configuration optimized for maximum compression
// Use for write-once/read-many archives
func BestCompressionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Policy = Policy{
		LabelText:             {{"xz", LevelMax}, {"brotli", LevelMax}, {"zstd", LevelMax}},
		LabelImage:            {{"xz", LevelMax}, {"zstd", LevelMax}},
		LabelMixedBinary:      {{"xz", LevelMax}, {"zstd", LevelMax}},
		LabelBinaryCompressed: {{"zstd", LevelMax}},
	}
	cfg.Priority = PrioritySize
	return cfg
}

// ArchivalConfig returns a configuration for cold storage: strongest codecs,
// content-defined slicing so edited files share blocks, strict integrity
func ArchivalConfig() *Config {
	cfg := BestCompressionConfig()
	cfg.ContentDefinedMin = 512 * kiB
	cfg.ContentDefinedMax = DefaultMaxBlockSize
	cfg.StrictIntegrity = true
	cfg.MaxTimeSeconds = 3600
	return cfg
}

// NewWithRecommendedConfig creates an engine with recommended settings
func NewWithRecommendedConfig(fsys FileSystem) (*Engine, error) {
	return New(fsys, RecommendedConfig())
}

// NewWithFastestConfig creates an engine optimized for speed
func NewWithFastestConfig(fsys FileSystem) (*Engine, error) {
	return New(fsys, FastestConfig())
}

// NewWithBestCompression creates an engine optimized for compression ratio
func NewWithBestCompression(fsys FileSystem) (*Engine, error) {
	return New(fsys, BestCompressionConfig())
}

// CompressBytes packs data into a container held in memory
func CompressBytes(ctx context.Context, data []byte, config *Config) ([]byte, error) {
	mfs := NewMemFS()
	mfs.WriteFile("in", data)

	engine, err := New(mfs, config)
	if err != nil {
		return nil, err
	}
	if _, err := engine.CompressFile(ctx, "in", "out"); err != nil {
		return nil, err
	}
	return mfs.ReadFile("out")
}

// DecompressBytes restores a container held in memory. Integrity failures
// are returned as errors.
func DecompressBytes(ctx context.Context, container []byte, config *Config) ([]byte, error) {
	mfs := NewMemFS()
	mfs.WriteFile("in", container)

	if config == nil {
		config = DefaultConfig()
	}
	strict := *config
	strict.StrictIntegrity = true

	engine, err := New(mfs, &strict)
	if err != nil {
		return nil, err
	}
	if _, err := engine.DecompressFile(ctx, "in", "out"); err != nil {
		return nil, err
	}
	return mfs.ReadFile("out")
}

// IsContainer checks if data starts with the container magic
func IsContainer(data []byte) bool {
	format, ok := DetectCompressed(data)
	return ok && format == "adapt"
}

// GetCompressionRatio calculates the compression ratio for given original and compressed sizes
// Returns a value between 0 and 1, where lower is better
// E.g., 0.5 means the compressed size is 50% of the original
func GetCompressionRatio(originalSize, compressedSize int64) float64 {
	if originalSize == 0 {
		return 0
	}
	return float64(compressedSize) / float64(originalSize)
}

// GetCompressionPercentage calculates the compression percentage
// Returns the percentage of space saved (0-100)
// E.g., 50 means 50% space savings
func GetCompressionPercentage(originalSize, compressedSize int64) float64 {
	if originalSize == 0 {
		return 0
	}
	return (1 - float64(compressedSize)/float64(originalSize)) * 100
}
