package adaptive

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Container layout, all integers little-endian:
//
//	0      7  magic "ADAPTV3"
//	7      8  manifest start (patched when the container is closed)
//	15     .. block payloads, each starting on a 4096-byte boundary
//	..     .. manifest JSON
//	..     8  manifest size
//	..     7  magic "ADAPTV3"
const (
	containerMagic = "ADAPTV3"
	magicSize      = 7
	headerSize     = magicSize + 8
	trailerSize    = 8 + magicSize
	blockAlignment = 4096

	// maxOriginalSize bounds the decoded length of one block. Writers
	// refuse larger blocks and readers reject manifests that claim them.
	maxOriginalSize = 1 << 30
)

// CompressedBlock is one manifest entry. End-Start is the stored
// (compressed) length, OriginalSize the decoded length.
type CompressedBlock struct {
	ID           uint64  `json:"id"`
	Label        Label   `json:"label"`
	Algorithm    AlgoTag `json:"algo"`
	Start        uint64  `json:"start"`
	End          uint64  `json:"end"`
	Checksum     uint32  `json:"checksum"`
	OriginalSize uint64  `json:"original_size"`
}

// StoredSize returns the number of payload bytes the block occupies.
func (b CompressedBlock) StoredSize() uint64 {
	return b.End - b.Start
}

// Manifest lists a container's blocks in id order.
type Manifest []CompressedBlock

// OriginalSize returns the decoded size of the whole container.
func (m Manifest) OriginalSize() uint64 {
	var total uint64
	for _, b := range m {
		total += b.OriginalSize
	}
	return total
}

// MarshalJSON encodes an empty manifest as [] rather than null.
func (m Manifest) MarshalJSON() ([]byte, error) {
	if m == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]CompressedBlock(m))
}

// ContainerWriter streams blocks into a container. Blocks are written as
// they arrive; the manifest and header offset are written by Close.
type ContainerWriter struct {
	w        io.WriteSeeker
	offset   uint64
	manifest Manifest
	closed   bool
}

// NewContainerWriter writes the header with a placeholder offset and
// returns a writer positioned after it. w must be at offset 0.
func NewContainerWriter(w io.WriteSeeker) (*ContainerWriter, error) {
	var header [headerSize]byte
	copy(header[:], containerMagic)
	if _, err := w.Write(header[:]); err != nil {
		return nil, errors.Wrap(err, "writing container header")
	}
	return &ContainerWriter{w: w, offset: headerSize, manifest: Manifest{}}, nil
}

// WriteBlock pads to the next 4096-byte boundary, writes data and records
// its manifest entry.
func (cw *ContainerWriter) WriteBlock(data []byte, label Label, tag AlgoTag, checksum uint32, originalSize int) (CompressedBlock, error) {
	if cw.closed {
		return CompressedBlock{}, errors.New("adaptive: write to closed container")
	}
	if originalSize < 0 || originalSize > maxOriginalSize {
		return CompressedBlock{}, errors.Errorf("adaptive: block of %d bytes exceeds the %d byte limit", originalSize, maxOriginalSize)
	}

	if pad := alignPadding(cw.offset); pad > 0 {
		if _, err := cw.w.Write(make([]byte, pad)); err != nil {
			return CompressedBlock{}, errors.Wrap(err, "writing block padding")
		}
		cw.offset += pad
	}

	block := CompressedBlock{
		ID:           uint64(len(cw.manifest)),
		Label:        label,
		Algorithm:    tag,
		Start:        cw.offset,
		Checksum:     checksum,
		OriginalSize: uint64(originalSize),
	}
	n, err := cw.w.Write(data)
	cw.offset += uint64(n)
	if err != nil {
		return CompressedBlock{}, errors.Wrapf(err, "writing block %d", block.ID)
	}
	block.End = cw.offset

	cw.manifest = append(cw.manifest, block)
	return block, nil
}

// Manifest returns the entries recorded so far.
func (cw *ContainerWriter) Manifest() Manifest {
	return cw.manifest
}

// Size returns the number of bytes written so far.
func (cw *ContainerWriter) Size() uint64 {
	return cw.offset
}

// Close writes the manifest, its size and the tail magic, then patches the
// header offset. It does not close the underlying writer.
func (cw *ContainerWriter) Close() error {
	if cw.closed {
		return nil
	}
	cw.closed = true

	raw, err := json.Marshal(cw.manifest)
	if err != nil {
		return errors.Wrap(err, "encoding manifest")
	}

	manifestStart := cw.offset
	trailer := make([]byte, 0, len(raw)+trailerSize)
	trailer = append(trailer, raw...)
	trailer = binary.LittleEndian.AppendUint64(trailer, uint64(len(raw)))
	trailer = append(trailer, containerMagic...)
	if _, err := cw.w.Write(trailer); err != nil {
		return errors.Wrap(err, "writing manifest")
	}
	cw.offset += uint64(len(trailer))

	if _, err := cw.w.Seek(int64(magicSize), io.SeekStart); err != nil {
		return errors.Wrap(err, "seeking to header")
	}
	var start [8]byte
	binary.LittleEndian.PutUint64(start[:], manifestStart)
	if _, err := cw.w.Write(start[:]); err != nil {
		return errors.Wrap(err, "patching header")
	}
	if _, err := cw.w.Seek(int64(cw.offset), io.SeekStart); err != nil {
		return errors.Wrap(err, "seeking to end")
	}
	return nil
}

func alignPadding(offset uint64) uint64 {
	return (blockAlignment - offset%blockAlignment) % blockAlignment
}
