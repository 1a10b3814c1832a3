package adaptive

import (
	"bytes"
	"hash/crc32"
	"iter"
	"testing"

	"github.com/pkg/errors"
)

func labelled(label Label, size int, fill byte) Chunk {
	return Chunk{Data: bytes.Repeat([]byte{fill}, size), Label: label, Size: size}
}

func chunkSeq(chunks ...Chunk) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func collectBlocks(t *testing.T, seq iter.Seq2[SuperBlock, error]) []SuperBlock {
	t.Helper()
	var blocks []SuperBlock
	for b, err := range seq {
		if err != nil {
			t.Fatalf("Failed to aggregate: %v", err)
		}
		blocks = append(blocks, b)
	}
	return blocks
}

func TestAggregateMergesByLabel(t *testing.T) {
	agg := NewBlockAggregator(DefaultMaxBlockSize)
	blocks := collectBlocks(t, agg.Aggregate(chunkSeq(
		labelled(LabelText, miB, 'a'),
		labelled(LabelText, miB, 'b'),
		labelled(LabelImage, miB, 'c'),
	)))

	if len(blocks) != 2 {
		t.Fatalf("Expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].Label != LabelText || blocks[0].Size != 2*miB || blocks[0].Chunks != 2 {
		t.Errorf("Block 0: got %s %d bytes from %d chunks", blocks[0].Label, blocks[0].Size, blocks[0].Chunks)
	}
	if blocks[1].Label != LabelImage || blocks[1].Size != miB {
		t.Errorf("Block 1: got %s %d bytes", blocks[1].Label, blocks[1].Size)
	}
}

func TestAggregateRespectsCap(t *testing.T) {
	tests := []struct {
		name   string
		max    int
		chunks []Chunk
		want   []int
	}{
		{
			name:   "splits at cap",
			max:    40,
			chunks: []Chunk{labelled(LabelText, 10, 'a'), labelled(LabelText, 10, 'a'), labelled(LabelText, 10, 'a'), labelled(LabelText, 10, 'a'), labelled(LabelText, 10, 'a')},
			want:   []int{40, 10},
		},
		{
			name:   "oversized chunk stands alone",
			max:    40,
			chunks: []Chunk{labelled(LabelText, 10, 'a'), labelled(LabelText, 100, 'b'), labelled(LabelText, 10, 'c')},
			want:   []int{10, 100, 10},
		},
		{
			name:   "zero-size chunks are dropped",
			max:    40,
			chunks: []Chunk{labelled(LabelText, 0, 'a'), labelled(LabelImage, 5, 'b'), labelled(LabelText, 0, 'a'), labelled(LabelImage, 5, 'c')},
			want:   []int{10},
		},
		{
			name: "no input",
			max:  40,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks := collectBlocks(t, NewBlockAggregator(tt.max).Aggregate(chunkSeq(tt.chunks...)))
			if len(blocks) != len(tt.want) {
				t.Fatalf("Expected %d blocks, got %d", len(tt.want), len(blocks))
			}
			for i, b := range blocks {
				if b.Size != tt.want[i] {
					t.Errorf("Block %d: size %d, want %d", i, b.Size, tt.want[i])
				}
			}
		})
	}
}

func TestAggregateConservesBytes(t *testing.T) {
	labels := []Label{LabelText, LabelText, LabelImage, LabelMixedBinary, LabelMixedBinary, LabelBinaryCompressed, LabelText}
	var chunks []Chunk
	var input []byte
	for i, label := range labels {
		c := labelled(label, 7+i*13, byte('a'+i))
		chunks = append(chunks, c)
		input = append(input, c.Data...)
	}

	blocks := collectBlocks(t, NewBlockAggregator(50).Aggregate(chunkSeq(chunks...)))

	var output []byte
	for i, b := range blocks {
		if len(b.Data) != b.Size {
			t.Errorf("Block %d: data %d bytes, size %d", i, len(b.Data), b.Size)
		}
		if b.Checksum != crc32.ChecksumIEEE(b.Data) {
			t.Errorf("Block %d: checksum mismatch", i)
		}
		output = append(output, b.Data...)
	}
	if !bytes.Equal(input, output) {
		t.Error("Aggregated bytes differ from input")
	}

	// Every block holds a single label: walk the input chunks alongside.
	ci := 0
	for i, b := range blocks {
		remaining := b.Size
		for remaining > 0 {
			if chunks[ci].Label != b.Label {
				t.Fatalf("Block %d (%s) contains a %s chunk", i, b.Label, chunks[ci].Label)
			}
			remaining -= chunks[ci].Size
			ci++
		}
	}
}

func TestAggregateForwardsError(t *testing.T) {
	boom := errors.New("read failed")
	source := func(yield func(Chunk, error) bool) {
		if !yield(labelled(LabelText, 10, 'a'), nil) {
			return
		}
		yield(Chunk{}, boom)
	}

	var got []SuperBlock
	var gotErr error
	for b, err := range NewBlockAggregator(100).Aggregate(source) {
		if err != nil {
			gotErr = err
			continue
		}
		got = append(got, b)
	}
	if gotErr != boom {
		t.Errorf("Expected source error, got %v", gotErr)
	}
	if len(got) != 0 {
		t.Errorf("Expected open block to be dropped, got %d blocks", len(got))
	}
}

func TestAggregateStopsEarly(t *testing.T) {
	chunks := []Chunk{labelled(LabelText, 10, 'a'), labelled(LabelImage, 10, 'b'), labelled(LabelText, 10, 'c')}
	n := 0
	for range NewBlockAggregator(100).Aggregate(chunkSeq(chunks...)) {
		n++
		break
	}
	if n != 1 {
		t.Errorf("Expected one block before break, got %d", n)
	}
}

func TestAggregateFromSlicer(t *testing.T) {
	text := generateHighlyCompressibleData(2 * miB)
	png := append([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, generateTestData(miB-8)...)

	mfs := NewMemFS()
	mfs.WriteFile("f", append(text, png...))

	slicer := NewWindowSlicer(mfs, "f")
	blocks := collectBlocks(t, NewBlockAggregator(0).Aggregate(slicer.Chunks()))

	if len(blocks) != 2 {
		t.Fatalf("Expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].Label != LabelText || blocks[0].Size != 2*miB {
		t.Errorf("Block 0: %s %d bytes, want TEXT %d", blocks[0].Label, blocks[0].Size, 2*miB)
	}
	if blocks[1].Label != LabelImage || blocks[1].Size != miB {
		t.Errorf("Block 1: %s %d bytes, want IMAGE %d", blocks[1].Label, blocks[1].Size, miB)
	}
}
