package adaptive

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

// runCodec runs fn on its own goroutine so a stuck codec cannot outlive ctx.
// The goroutine finishes on its own; its result is dropped after a timeout.
func runCodec(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := fn()
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// checkTag rejects tags that belong to another codec or carry no level.
func checkTag(name string, tag AlgoTag) (Level, error) {
	if tag.Codec() != name {
		return 0, &CodecError{Codec: name, Op: "decompress", Tag: tag, Err: ErrUnknownCodec}
	}
	level, err := tag.Level()
	if err != nil {
		return 0, &CodecError{Codec: name, Op: "decompress", Tag: tag, Err: err}
	}
	return level, nil
}

// readAllLimited reads r to EOF but gives up once the output passes the
// block size limit.
func readAllLimited(r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, maxOriginalSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxOriginalSize {
		return nil, errors.Errorf("decoded output exceeds %d bytes", maxOriginalSize)
	}
	return out, nil
}

func compressWith(ctx context.Context, name string, level Level, fn func() ([]byte, error)) ([]byte, AlgoTag, error) {
	tag := NewAlgoTag(name, level)
	out, err := runCodec(ctx, fn)
	if err != nil {
		return nil, "", &CodecError{Codec: name, Op: "compress", Tag: tag, Err: err}
	}
	return out, tag, nil
}

func decompressWith(ctx context.Context, name string, tag AlgoTag, fn func() ([]byte, error)) ([]byte, error) {
	if _, err := checkTag(name, tag); err != nil {
		return nil, err
	}
	out, err := runCodec(ctx, fn)
	if err != nil {
		return nil, &CodecError{Codec: name, Op: "decompress", Tag: tag, Err: err}
	}
	return out, nil
}

// Store implementation: identity in both directions
type storeCodec struct{}

func (storeCodec) Name() string { return string(TagStore) }

func (storeCodec) Compress(_ context.Context, raw []byte, _ Level) ([]byte, AlgoTag, error) {
	return raw, TagStore, nil
}

func (storeCodec) Decompress(_ context.Context, data []byte, tag AlgoTag) ([]byte, error) {
	if tag != TagStore {
		return nil, &CodecError{Codec: string(TagStore), Op: "decompress", Tag: tag, Err: ErrUnknownCodec}
	}
	return data, nil
}

// Zstd implementation using github.com/klauspost/compress/zstd
type zstdCodec struct {
	once    sync.Once
	fast    *zstd.Encoder
	best    *zstd.Encoder
	decoder *zstd.Decoder
	initErr error
}

// NewZstdCodec returns a zstd codec whose encoders are built on first use
// and shared afterwards.
func NewZstdCodec() Codec {
	return &zstdCodec{}
}

func (z *zstdCodec) init() error {
	z.once.Do(func() {
		var err error
		if z.fast, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest)); err != nil {
			z.initErr = errors.Wrap(err, "zstd fast encoder")
			return
		}
		if z.best, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression)); err != nil {
			z.initErr = errors.Wrap(err, "zstd best encoder")
			return
		}
		if z.decoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxOriginalSize)); err != nil {
			z.initErr = errors.Wrap(err, "zstd decoder")
		}
	})
	return z.initErr
}

func (z *zstdCodec) Name() string { return "zstd" }

func (z *zstdCodec) Compress(ctx context.Context, raw []byte, level Level) ([]byte, AlgoTag, error) {
	return compressWith(ctx, z.Name(), level, func() ([]byte, error) {
		if err := z.init(); err != nil {
			return nil, err
		}
		enc := z.fast
		if level == LevelMax {
			enc = z.best
		}
		return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
	})
}

func (z *zstdCodec) Decompress(ctx context.Context, data []byte, tag AlgoTag) ([]byte, error) {
	return decompressWith(ctx, z.Name(), tag, func() ([]byte, error) {
		if err := z.init(); err != nil {
			return nil, err
		}
		return z.decoder.DecodeAll(data, nil)
	})
}

// XZ (LZMA2) implementation using github.com/ulikunitz/xz
type xzCodec struct{}

func (xzCodec) Name() string { return "xz" }

func (c xzCodec) Compress(ctx context.Context, raw []byte, level Level) ([]byte, AlgoTag, error) {
	return compressWith(ctx, c.Name(), level, func() ([]byte, error) {
		cfg := xz.WriterConfig{DictCap: 1 * miB}
		if level == LevelMax {
			cfg.DictCap = DefaultMaxBlockSize
		}
		var buf bytes.Buffer
		w, err := cfg.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
}

func (c xzCodec) Decompress(ctx context.Context, data []byte, tag AlgoTag) ([]byte, error) {
	return decompressWith(ctx, c.Name(), tag, func() ([]byte, error) {
		r, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return readAllLimited(r)
	})
}

// LZ4 frame implementation using github.com/pierrec/lz4/v4
type lz4Codec struct{}

func (lz4Codec) Name() string { return "lz4" }

func (c lz4Codec) Compress(ctx context.Context, raw []byte, level Level) ([]byte, AlgoTag, error) {
	return compressWith(ctx, c.Name(), level, func() ([]byte, error) {
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		opt := lz4.CompressionLevelOption(lz4.Fast)
		if level == LevelMax {
			opt = lz4.CompressionLevelOption(lz4.Level9)
		}
		if err := w.Apply(opt); err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
}

func (c lz4Codec) Decompress(ctx context.Context, data []byte, tag AlgoTag) ([]byte, error) {
	return decompressWith(ctx, c.Name(), tag, func() ([]byte, error) {
		return readAllLimited(lz4.NewReader(bytes.NewReader(data)))
	})
}

// Brotli implementation using github.com/andybalholm/brotli
type brotliCodec struct{}

func (brotliCodec) Name() string { return "brotli" }

func (c brotliCodec) Compress(ctx context.Context, raw []byte, level Level) ([]byte, AlgoTag, error) {
	return compressWith(ctx, c.Name(), level, func() ([]byte, error) {
		quality := brotli.BestSpeed
		if level == LevelMax {
			quality = brotli.BestCompression
		}
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, quality)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
}

func (c brotliCodec) Decompress(ctx context.Context, data []byte, tag AlgoTag) ([]byte, error) {
	return decompressWith(ctx, c.Name(), tag, func() ([]byte, error) {
		return readAllLimited(brotli.NewReader(bytes.NewReader(data)))
	})
}

// Snappy block implementation using github.com/golang/snappy
// Snappy has no levels; both tags decode the same way.
type snappyCodec struct{}

func (snappyCodec) Name() string { return "snappy" }

func (c snappyCodec) Compress(ctx context.Context, raw []byte, level Level) ([]byte, AlgoTag, error) {
	return compressWith(ctx, c.Name(), level, func() ([]byte, error) {
		return snappy.Encode(nil, raw), nil
	})
}

func (c snappyCodec) Decompress(ctx context.Context, data []byte, tag AlgoTag) ([]byte, error) {
	return decompressWith(ctx, c.Name(), tag, func() ([]byte, error) {
		n, err := snappy.DecodedLen(data)
		if err != nil {
			return nil, err
		}
		if n > maxOriginalSize {
			return nil, errors.Errorf("decoded output of %d bytes exceeds %d", n, maxOriginalSize)
		}
		return snappy.Decode(nil, data)
	})
}

// Gzip implementation using github.com/klauspost/compress/gzip
type gzipCodec struct{}

func (gzipCodec) Name() string { return "gzip" }

func (c gzipCodec) Compress(ctx context.Context, raw []byte, level Level) ([]byte, AlgoTag, error) {
	return compressWith(ctx, c.Name(), level, func() ([]byte, error) {
		gzLevel := gzip.BestSpeed
		if level == LevelMax {
			gzLevel = gzip.BestCompression
		}
		var buf bytes.Buffer
		w, err := gzip.NewWriterLevel(&buf, gzLevel)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	})
}

func (c gzipCodec) Decompress(ctx context.Context, data []byte, tag AlgoTag) ([]byte, error) {
	return decompressWith(ctx, c.Name(), tag, func() ([]byte, error) {
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return readAllLimited(r)
	})
}
