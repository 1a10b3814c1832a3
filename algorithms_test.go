package adaptive

import (
	"bytes"
	"context"
	"testing"

	"github.com/pkg/errors"
)

// Test all codecs with the same data
func TestAllCodecs(t *testing.T) {
	testData := []byte("Hello, World! This is test data for compression algorithms. " +
		"Let's make it a bit longer to get better compression ratios. " +
		"Compression is the process of encoding information using fewer bits than the original representation.")

	codecs := []struct {
		name  string
		codec string
		level Level
	}{
		{"zstd-fast", "zstd", LevelFast},
		{"zstd-max", "zstd", LevelMax},
		{"xz-fast", "xz", LevelFast},
		{"xz-max", "xz", LevelMax},
		{"lz4-fast", "lz4", LevelFast},
		{"lz4-max", "lz4", LevelMax},
		{"brotli-fast", "brotli", LevelFast},
		{"brotli-max", "brotli", LevelMax},
		{"snappy", "snappy", LevelFast},
		{"gzip-fast", "gzip", LevelFast},
		{"gzip-max", "gzip", LevelMax},
	}

	set := DefaultCodecs()
	ctx := context.Background()

	for _, tt := range codecs {
		t.Run(tt.name, func(t *testing.T) {
			codec, ok := set.Lookup(tt.codec)
			if !ok {
				t.Fatalf("Codec %s not registered", tt.codec)
			}

			compressed, tag, err := codec.Compress(ctx, testData, tt.level)
			if err != nil {
				t.Fatalf("Failed to compress: %v", err)
			}
			if want := NewAlgoTag(tt.codec, tt.level); tag != want {
				t.Errorf("Expected tag %s, got %s", want, tag)
			}

			restored, err := codec.Decompress(ctx, compressed, tag)
			if err != nil {
				t.Fatalf("Failed to decompress: %v", err)
			}
			if !bytes.Equal(restored, testData) {
				t.Fatalf("Decompressed data does not match.\nExpected length: %d, Got length: %d",
					len(testData), len(restored))
			}
		})
	}
}

// Test that compressible data actually shrinks
func TestCodecsShrinkRepetitiveData(t *testing.T) {
	data := generateHighlyCompressibleData(64 * 1024)
	set := DefaultCodecs()

	for _, name := range []string{"zstd", "xz", "lz4", "brotli", "snappy", "gzip"} {
		t.Run(name, func(t *testing.T) {
			codec, _ := set.Lookup(name)
			compressed, _, err := codec.Compress(context.Background(), data, LevelMax)
			if err != nil {
				t.Fatalf("Failed to compress: %v", err)
			}
			if len(compressed) >= len(data)/4 {
				t.Errorf("Expected strong compression, got %d -> %d bytes", len(data), len(compressed))
			}
		})
	}
}

func TestCodecsEmptyInput(t *testing.T) {
	set := DefaultCodecs()
	ctx := context.Background()

	for _, name := range set.Names() {
		t.Run(name, func(t *testing.T) {
			codec, _ := set.Lookup(name)
			compressed, tag, err := codec.Compress(ctx, nil, LevelFast)
			if err != nil {
				t.Fatalf("Failed to compress empty input: %v", err)
			}
			restored, err := codec.Decompress(ctx, compressed, tag)
			if err != nil {
				t.Fatalf("Failed to decompress empty input: %v", err)
			}
			if len(restored) != 0 {
				t.Errorf("Expected empty output, got %d bytes", len(restored))
			}
		})
	}
}

func TestStoreCodec(t *testing.T) {
	data := []byte("verbatim")
	codec, ok := DefaultCodecs().Lookup("STORE")
	if !ok {
		t.Fatal("STORE not registered")
	}

	out, tag, err := codec.Compress(context.Background(), data, LevelMax)
	if err != nil {
		t.Fatalf("Failed to store: %v", err)
	}
	if tag != TagStore || !bytes.Equal(out, data) {
		t.Errorf("Expected identity with tag STORE, got %s", tag)
	}
	if _, err := codec.Decompress(context.Background(), data, "zstd/max"); !errors.Is(err, ErrCodec) {
		t.Errorf("Expected ErrCodec for foreign tag, got %v", err)
	}
}

func TestCodecTagMismatch(t *testing.T) {
	set := DefaultCodecs()
	zstdCodec, _ := set.Lookup("zstd")

	compressed, _, err := zstdCodec.Compress(context.Background(), []byte("some data"), LevelFast)
	if err != nil {
		t.Fatalf("Failed to compress: %v", err)
	}

	tests := []struct {
		name string
		tag  AlgoTag
		want error
	}{
		{"other codec", "xz/max", ErrUnknownCodec},
		{"no level", "zstd", ErrInvalidLevel},
		{"bad level", "zstd/turbo", ErrInvalidLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := zstdCodec.Decompress(context.Background(), compressed, tt.tag)
			if !errors.Is(err, ErrCodec) {
				t.Fatalf("Expected ErrCodec, got %v", err)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCodecCorruptInput(t *testing.T) {
	set := DefaultCodecs()
	garbage := []byte("this is not a compressed stream at all")

	for _, name := range []string{"zstd", "xz", "lz4", "gzip"} {
		t.Run(name, func(t *testing.T) {
			codec, _ := set.Lookup(name)
			_, err := codec.Decompress(context.Background(), garbage, NewAlgoTag(name, LevelFast))
			if err == nil {
				t.Fatal("Expected error decoding garbage")
			}
			var codecErr *CodecError
			if !errors.As(err, &codecErr) {
				t.Fatalf("Expected *CodecError, got %T", err)
			}
			if codecErr.Op != "decompress" || codecErr.Codec != name {
				t.Errorf("Unexpected error fields: %+v", codecErr)
			}
		})
	}
}

func TestCodecCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	codec, _ := DefaultCodecs().Lookup("zstd")
	_, _, err := codec.Compress(ctx, []byte("data"), LevelFast)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if !errors.Is(err, ErrCodec) {
		t.Errorf("Expected ErrCodec, got %v", err)
	}
}

func TestExecCodecWithoutRunning(t *testing.T) {
	codec := NewExecCodec("zpaq", "", `zpaq "unterminated`, "zpaq x {in}")
	ctx := context.Background()

	t.Run("missing level", func(t *testing.T) {
		_, _, err := codec.Compress(ctx, []byte("x"), LevelFast)
		if !errors.Is(err, ErrInvalidLevel) {
			t.Errorf("Expected ErrInvalidLevel, got %v", err)
		}
	})

	t.Run("bad template", func(t *testing.T) {
		_, _, err := codec.Compress(ctx, []byte("x"), LevelMax)
		if !errors.Is(err, ErrCodec) {
			t.Errorf("Expected ErrCodec, got %v", err)
		}
	})

	t.Run("foreign tag", func(t *testing.T) {
		_, err := codec.Decompress(ctx, []byte("x"), "zstd/fast")
		if !errors.Is(err, ErrUnknownCodec) {
			t.Errorf("Expected ErrUnknownCodec, got %v", err)
		}
	})
}
