// Package adaptive compresses files into self-describing ADAPTV3 containers,
// choosing a codec per block from the content of that block.
//
// A file is read in windows, each window is labelled by its content, runs of
// equally labelled windows are merged into super-blocks and every super-block
// is compressed with the first codec in its label's attempt chain that
// succeeds and saves space. Blocks that do not shrink are stored verbatim.
//
// # Features
//
//   - Per-block codec choice from a label policy
//   - 7 built-in codecs: zstd, xz, lz4, brotli, snappy, gzip, STORE
//   - External command-line codecs with per-attempt timeouts
//   - Fixed or content-defined windows
//   - CRC32 per block, BLAKE3 per file
//   - Damaged blocks are reported without losing the rest of the file
//   - Whole-file codec prediction from features, telemetry and calibration
//   - Batch processing with skip, collision and cancellation handling
//
// # Quick Start
//
//	engine, _ := adaptive.New(adaptive.OSFS(), adaptive.DefaultConfig())
//
//	// Compress data.bin into data.bin.adapt
//	result, _ := engine.CompressFile(ctx, "data.bin", "data.bin.adapt")
//	fmt.Printf("%d blocks, ratio %.2f\n", result.Blocks, result.Ratio())
//
//	// Restore it
//	restored, _ := engine.DecompressFile(ctx, "data.bin.adapt", "data.bin")
//	for _, bad := range restored.Corrupt {
//	    log.Printf("block %d damaged", bad.BlockID)
//	}
//
// # Labels and Policy
//
// Every window gets one of four labels:
//
//   - TEXT: mostly printable bytes
//   - IMAGE: starts with a JPEG, PNG, PDF or BMP signature
//   - BINARY_COMPRESSED: near-random bytes
//   - MIXED_BINARY: everything else
//
// The default policy tries zstd/max then brotli/fast for TEXT, xz/max then
// zstd/fast for IMAGE and MIXED_BINARY, and lz4/fast for BINARY_COMPRESSED.
//
// # Container Format
//
//	"ADAPTV3" | manifest_start u64 LE
//	block payloads, each starting on a 4096-byte boundary
//	manifest JSON | manifest_size u64 LE | "ADAPTV3"
//
// The manifest lists every block with its label, algorithm tag, byte range,
// CRC32 and original size. Readers use the trailing copy and fall back to
// the header offset when the tail is damaged.
//
// # Prediction
//
// Predict runs the DecisionEngine over a file's features. It scores zstd,
// 7zip, paq, webp and ffmpeg against a calibration table under the current
// battery, network and memory state, or answers SKIP for incompressible data.
// Calibrator refreshes the table by timing real codecs.
package adaptive
