package adaptive

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
)

// ReadManifest locates and parses a container's manifest. The tail copy is
// authoritative; the header offset is used only when the tail cannot be
// read. If both fail the tail's error is returned.
func ReadManifest(r io.ReaderAt, size int64) (Manifest, error) {
	m, _, tailErr := readTailManifest(r, size)
	if tailErr == nil {
		return m, nil
	}
	m, _, err := readHeaderManifest(r, size)
	if err != nil {
		return nil, tailErr
	}
	return m, nil
}

// readTailManifest reads the manifest through the size and magic at the
// end of the container.
func readTailManifest(r io.ReaderAt, size int64) (Manifest, []byte, error) {
	if size < int64(headerSize+trailerSize) {
		return nil, nil, formatErrorf("file of %d bytes is too small", size)
	}

	var trailer [trailerSize]byte
	if _, err := r.ReadAt(trailer[:], size-trailerSize); err != nil {
		return nil, nil, &FormatError{Reason: "reading trailer", Err: err}
	}
	if string(trailer[8:]) != containerMagic {
		return nil, nil, formatErrorf("tail signature mismatch")
	}

	manifestSize := binary.LittleEndian.Uint64(trailer[:8])
	limit := uint64(size) - uint64(headerSize+trailerSize)
	if manifestSize > limit {
		return nil, nil, formatErrorf("manifest size %d exceeds file size %d", manifestSize, size)
	}

	start := size - trailerSize - int64(manifestSize)
	raw := make([]byte, manifestSize)
	if _, err := r.ReadAt(raw, start); err != nil {
		return nil, nil, &FormatError{Reason: "reading tail manifest", Err: err}
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, nil, &FormatError{Reason: "malformed tail manifest", Err: err}
	}
	if err := validateManifest(m, uint64(start)); err != nil {
		return nil, nil, err
	}
	return normalize(m), raw, nil
}

// readHeaderManifest reads the manifest at the header's offset. The header
// carries no length, so exactly one JSON value is decoded from the offset
// and whatever follows it is ignored.
func readHeaderManifest(r io.ReaderAt, size int64) (Manifest, []byte, error) {
	if size < int64(headerSize) {
		return nil, nil, formatErrorf("file of %d bytes is too small", size)
	}

	var header [headerSize]byte
	if _, err := r.ReadAt(header[:], 0); err != nil {
		return nil, nil, &FormatError{Reason: "reading header", Err: err}
	}
	if string(header[:magicSize]) != containerMagic {
		return nil, nil, formatErrorf("header signature mismatch")
	}

	offset := binary.LittleEndian.Uint64(header[magicSize:])
	if offset > uint64(size) {
		return nil, nil, formatErrorf("manifest offset %d out of bounds (size %d)", offset, size)
	}
	if offset < uint64(headerSize) {
		return nil, nil, formatErrorf("manifest offset %d overlaps header", offset)
	}

	section := io.NewSectionReader(r, int64(offset), size-int64(offset))
	dec := json.NewDecoder(section)
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, nil, &FormatError{Reason: "malformed header manifest", Err: err}
	}

	raw := make([]byte, dec.InputOffset())
	if _, err := r.ReadAt(raw, int64(offset)); err != nil {
		return nil, nil, &FormatError{Reason: "reading header manifest", Err: err}
	}
	raw = bytes.TrimSpace(raw)

	if err := validateManifest(m, offset); err != nil {
		return nil, nil, err
	}
	return normalize(m), raw, nil
}

// validateManifest checks ids and that every block lies, aligned, between
// the header and the manifest.
func validateManifest(m Manifest, manifestStart uint64) error {
	for i, b := range m {
		switch {
		case b.ID != uint64(i):
			return formatErrorf("block at position %d has id %d", i, b.ID)
		case b.Start < uint64(headerSize) || b.Start%blockAlignment != 0:
			return formatErrorf("block %d starts at unaligned offset %d", b.ID, b.Start)
		case b.End < b.Start || b.End > manifestStart:
			return formatErrorf("block %d spans [%d,%d) outside payload area", b.ID, b.Start, b.End)
		case i > 0 && b.Start < m[i-1].End:
			return formatErrorf("block %d overlaps block %d", b.ID, i-1)
		case b.OriginalSize > maxOriginalSize:
			return formatErrorf("block %d claims %d decoded bytes", b.ID, b.OriginalSize)
		case b.Algorithm == TagStore && b.OriginalSize != b.StoredSize():
			return formatErrorf("stored block %d is %d bytes but claims %d", b.ID, b.StoredSize(), b.OriginalSize)
		}
		if _, ok := labelNames[b.Label]; !ok {
			return formatErrorf("block %d has invalid label", b.ID)
		}
		if b.Algorithm == "" {
			return formatErrorf("block %d has no algorithm", b.ID)
		}
	}
	return nil
}

func normalize(m Manifest) Manifest {
	if m == nil {
		return Manifest{}
	}
	return m
}

// ContainerInfo describes both manifest copies of a container.
type ContainerInfo struct {
	Size         int64
	HeaderOffset uint64

	Tail      Manifest
	TailErr   error
	Header    Manifest
	HeaderErr error

	// Parity is true when both copies were read and are byte-identical.
	Parity bool
}

// Manifest returns the copy ReadManifest would use.
func (ci *ContainerInfo) Manifest() (Manifest, error) {
	if ci.TailErr == nil {
		return ci.Tail, nil
	}
	if ci.HeaderErr == nil {
		return ci.Header, nil
	}
	return nil, ci.TailErr
}

// InspectContainer reads both manifest copies independently.
func InspectContainer(r io.ReaderAt, size int64) *ContainerInfo {
	info := &ContainerInfo{Size: size}

	var header [headerSize]byte
	if size >= int64(headerSize) {
		if _, err := r.ReadAt(header[:], 0); err == nil {
			info.HeaderOffset = binary.LittleEndian.Uint64(header[magicSize:])
		}
	}

	var tailRaw, headerRaw []byte
	info.Tail, tailRaw, info.TailErr = readTailManifest(r, size)
	info.Header, headerRaw, info.HeaderErr = readHeaderManifest(r, size)
	info.Parity = info.TailErr == nil && info.HeaderErr == nil && bytes.Equal(tailRaw, headerRaw)
	return info
}
