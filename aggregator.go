package adaptive

import (
	"hash/crc32"
	"iter"
)

// SuperBlock is a run of adjacent same-label chunks. Checksum is the CRC32
// (IEEE) of Data, set when the block is finalized.
type SuperBlock struct {
	Label    Label
	Data     []byte
	Size     int
	Checksum uint32
	Chunks   int
}

// BlockAggregator merges adjacent same-label chunks into SuperBlocks of at
// most MaxBlockSize bytes. A single chunk larger than the cap becomes its
// own block and is never split.
type BlockAggregator struct {
	MaxBlockSize int
}

// NewBlockAggregator creates an aggregator; maxBlockSize <= 0 uses the
// default.
func NewBlockAggregator(maxBlockSize int) *BlockAggregator {
	if maxBlockSize <= 0 {
		maxBlockSize = DefaultMaxBlockSize
	}
	return &BlockAggregator{MaxBlockSize: maxBlockSize}
}

// Aggregate consumes chunks lazily and yields finalized blocks. An error
// from the source is forwarded after the open block is dropped, and ends
// the sequence.
func (a *BlockAggregator) Aggregate(chunks iter.Seq2[Chunk, error]) iter.Seq2[SuperBlock, error] {
	return func(yield func(SuperBlock, error) bool) {
		var open *SuperBlock

		for chunk, err := range chunks {
			if err != nil {
				yield(SuperBlock{}, err)
				return
			}
			if chunk.Size == 0 {
				continue
			}

			if open != nil && (chunk.Label != open.Label || open.Size+chunk.Size > a.MaxBlockSize) {
				if !yield(finalize(open), nil) {
					return
				}
				open = nil
			}

			if open == nil {
				open = &SuperBlock{Label: chunk.Label, Data: make([]byte, 0, min(chunk.Size, a.MaxBlockSize))}
			}
			open.Data = append(open.Data, chunk.Data[:chunk.Size]...)
			open.Size += chunk.Size
			open.Chunks++
		}

		if open != nil {
			yield(finalize(open), nil)
		}
	}
}

func finalize(b *SuperBlock) SuperBlock {
	b.Checksum = crc32.ChecksumIEEE(b.Data)
	return *b
}
