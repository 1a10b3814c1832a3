package adaptive

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// fakeCodec is a scriptable Codec for bridge and engine tests.
type fakeCodec struct {
	name       string
	compress   func(ctx context.Context, raw []byte) ([]byte, error)
	decompress func(ctx context.Context, data []byte) ([]byte, error)
	tag        AlgoTag // overrides the returned tag when set
	calls      atomic.Int32
}

func (f *fakeCodec) Name() string { return f.name }

func (f *fakeCodec) Compress(ctx context.Context, raw []byte, level Level) ([]byte, AlgoTag, error) {
	f.calls.Add(1)
	out, err := f.compress(ctx, raw)
	if err != nil {
		return nil, "", err
	}
	tag := NewAlgoTag(f.name, level)
	if f.tag != "" {
		tag = f.tag
	}
	return out, tag, nil
}

func (f *fakeCodec) Decompress(ctx context.Context, data []byte, tag AlgoTag) ([]byte, error) {
	if f.decompress == nil {
		return data, nil
	}
	return f.decompress(ctx, data)
}

func failing(name string) *fakeCodec {
	return &fakeCodec{name: name, compress: func(context.Context, []byte) ([]byte, error) {
		return nil, errors.New("tool crashed")
	}}
}

func halving(name string) *fakeCodec {
	return &fakeCodec{name: name, compress: func(_ context.Context, raw []byte) ([]byte, error) {
		return raw[:len(raw)/2], nil
	}}
}

func expanding(name string) *fakeCodec {
	return &fakeCodec{name: name, compress: func(_ context.Context, raw []byte) ([]byte, error) {
		return append(append([]byte(nil), raw...), 0), nil
	}}
}

func blocking(name string) *fakeCodec {
	return &fakeCodec{name: name, compress: func(ctx context.Context, _ []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func textBlock(n int) SuperBlock {
	data := generateHighlyCompressibleData(n)
	return SuperBlock{Label: LabelText, Data: data, Size: n}
}

func TestCodecBridgeFallback(t *testing.T) {
	tests := []struct {
		name      string
		codecs    []*fakeCodec
		chain     []Attempt
		wantTag   AlgoTag
		wantCalls map[string]int32
	}{
		{
			name:      "first attempt wins",
			codecs:    []*fakeCodec{halving("a"), halving("b")},
			chain:     []Attempt{{"a", LevelMax}, {"b", LevelFast}},
			wantTag:   "a/max",
			wantCalls: map[string]int32{"a": 1, "b": 0},
		},
		{
			name:      "failure falls through",
			codecs:    []*fakeCodec{failing("a"), halving("b")},
			chain:     []Attempt{{"a", LevelMax}, {"b", LevelFast}},
			wantTag:   "b/fast",
			wantCalls: map[string]int32{"a": 1, "b": 1},
		},
		{
			name:      "expansion stores without trying further",
			codecs:    []*fakeCodec{expanding("a"), halving("b")},
			chain:     []Attempt{{"a", LevelMax}, {"b", LevelFast}},
			wantTag:   TagStore,
			wantCalls: map[string]int32{"a": 1, "b": 0},
		},
		{
			name:      "all failing stores",
			codecs:    []*fakeCodec{failing("a"), failing("b")},
			chain:     []Attempt{{"a", LevelMax}, {"b", LevelFast}},
			wantTag:   TagStore,
			wantCalls: map[string]int32{"a": 1, "b": 1},
		},
		{
			name:      "unknown codec is skipped",
			codecs:    []*fakeCodec{halving("b")},
			chain:     []Attempt{{"missing", LevelMax}, {"b", LevelFast}},
			wantTag:   "b/fast",
			wantCalls: map[string]int32{"b": 1},
		},
		{
			name:      "empty chain stores",
			codecs:    []*fakeCodec{halving("a")},
			chain:     nil,
			wantTag:   TagStore,
			wantCalls: map[string]int32{"a": 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := NewCodecSet()
			byName := make(map[string]*fakeCodec)
			for _, c := range tt.codecs {
				set.Register(c)
				byName[c.name] = c
			}

			bridge := NewCodecBridge(set, Policy{LabelText: tt.chain}, time.Second, quietLogger())
			block := textBlock(1000)
			out, tag := bridge.Compress(context.Background(), block)

			if tag != tt.wantTag {
				t.Errorf("Expected tag %s, got %s", tt.wantTag, tag)
			}
			if tag == TagStore && !bytes.Equal(out, block.Data) {
				t.Error("STORE output differs from input")
			}
			if len(out) > block.Size {
				t.Errorf("Output %d bytes exceeds input %d", len(out), block.Size)
			}
			for name, want := range tt.wantCalls {
				if got := byName[name].calls.Load(); got != want {
					t.Errorf("Codec %s called %d times, want %d", name, got, want)
				}
			}
		})
	}
}

func TestCodecBridgeTimeout(t *testing.T) {
	set := NewCodecSet(blocking("slow"), halving("quick"))
	policy := Policy{LabelText: {{"slow", LevelMax}, {"quick", LevelFast}}}
	bridge := NewCodecBridge(set, policy, 20*time.Millisecond, quietLogger())

	start := time.Now()
	_, tag := bridge.Compress(context.Background(), textBlock(100))
	if tag != "quick/fast" {
		t.Errorf("Expected fallback to quick/fast, got %s", tag)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Timeout not enforced, took %v", elapsed)
	}
}

func TestCodecBridgeRejectsForeignTag(t *testing.T) {
	liar := halving("a")
	liar.tag = "zstd/max"
	bridge := NewCodecBridge(NewCodecSet(liar), Policy{LabelText: {{"a", LevelMax}}}, time.Second, quietLogger())

	if _, tag := bridge.Compress(context.Background(), textBlock(100)); tag != TagStore {
		t.Errorf("Expected STORE for a codec reporting a foreign tag, got %s", tag)
	}
}

func TestCodecBridgeNeverExpands(t *testing.T) {
	bridge := NewCodecBridge(nil, nil, 0, quietLogger())

	inputs := map[string]SuperBlock{
		"random": {Label: LabelBinaryCompressed, Data: generateIncompressibleData(64 * 1024), Size: 64 * 1024},
		"tiny":   {Label: LabelText, Data: []byte("hi"), Size: 2},
		"text":   textBlock(64 * 1024),
	}
	for name, block := range inputs {
		t.Run(name, func(t *testing.T) {
			out, tag := bridge.Compress(context.Background(), block)
			if tag == TagStore {
				if !bytes.Equal(out, block.Data) {
					t.Error("STORE output differs from input")
				}
				return
			}
			if len(out) >= block.Size {
				t.Errorf("%s output %d bytes, input %d", tag, len(out), block.Size)
			}

			restored, err := bridge.Decompress(context.Background(), out, tag)
			if err != nil {
				t.Fatalf("Failed to decompress: %v", err)
			}
			if !bytes.Equal(restored, block.Data) {
				t.Error("Round trip through the bridge changed the data")
			}
		})
	}
}

func TestCodecBridgeDecompress(t *testing.T) {
	bridge := NewCodecBridge(nil, nil, 0, quietLogger())
	ctx := context.Background()

	data := []byte("raw bytes")
	out, err := bridge.Decompress(ctx, data, TagStore)
	if err != nil || !bytes.Equal(out, data) {
		t.Errorf("STORE must be the identity, got %q, %v", out, err)
	}

	_, err = bridge.Decompress(ctx, data, "paq8/max")
	if !errors.Is(err, ErrUnknownCodec) || !errors.Is(err, ErrCodec) {
		t.Errorf("Expected unknown codec error, got %v", err)
	}
}
