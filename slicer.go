package adaptive

import (
	"io"
	"iter"

	"github.com/pkg/errors"
	"github.com/restic/chunker"
)

// chunkerPolynomial is fixed so content-defined boundaries are stable
// across runs and machines.
const chunkerPolynomial = chunker.Pol(0x3DA3358B4DC173)

// Chunk is one classified window of input.
type Chunk struct {
	Data  []byte
	Label Label
	Size  int
}

func newChunk(data []byte) Chunk {
	return Chunk{Data: data, Label: Classify(data), Size: len(data)}
}

// SlicerOption configures a WindowSlicer.
type SlicerOption func(*WindowSlicer)

// WithWindowSize sets the fixed window size.
func WithWindowSize(n int) SlicerOption {
	return func(s *WindowSlicer) {
		if n > 0 {
			s.windowSize = n
		}
	}
}

// WithContentDefined switches to content-defined boundaries between lo
// and hi bytes. Zero values keep fixed windows.
func WithContentDefined(lo, hi int) SlicerOption {
	return func(s *WindowSlicer) {
		if lo > 0 && hi >= lo {
			s.cdcMin, s.cdcMax = lo, hi
		}
	}
}

// WindowSlicer reads a file sequentially and classifies each window on its
// own.
type WindowSlicer struct {
	fsys       FileSystem
	path       string
	windowSize int
	cdcMin     int
	cdcMax     int
}

// NewWindowSlicer creates a slicer for path. The file is opened when the
// sequence is ranged over.
func NewWindowSlicer(fsys FileSystem, path string, opts ...SlicerOption) *WindowSlicer {
	s := &WindowSlicer{fsys: fsys, path: path, windowSize: DefaultWindowSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Chunks yields the file's chunks in order. An open failure is yielded once
// as a *FileAccessError; read failures end the sequence with an error. Each
// range opens the file afresh.
func (s *WindowSlicer) Chunks() iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		f, err := openRead(s.fsys, s.path)
		if err != nil {
			yield(Chunk{}, &FileAccessError{Path: s.path, Err: err})
			return
		}
		defer f.Close()

		if s.cdcMin > 0 {
			s.contentDefined(f, yield)
			return
		}
		s.fixed(f, yield)
	}
}

func (s *WindowSlicer) fixed(r io.Reader, yield func(Chunk, error) bool) {
	for {
		buf := make([]byte, s.windowSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if !yield(newChunk(buf[:n]), nil) {
				return
			}
		}
		switch {
		case err == io.EOF || err == io.ErrUnexpectedEOF:
			return
		case err != nil:
			yield(Chunk{}, errors.Wrapf(err, "reading %s", s.path))
			return
		}
	}
}

func (s *WindowSlicer) contentDefined(r io.Reader, yield func(Chunk, error) bool) {
	c := chunker.NewWithBoundaries(r, chunkerPolynomial, uint(s.cdcMin), uint(s.cdcMax))
	buf := make([]byte, s.cdcMax)
	for {
		chunk, err := c.Next(buf)
		if err == io.EOF {
			return
		}
		if err != nil {
			yield(Chunk{}, errors.Wrapf(err, "chunking %s", s.path))
			return
		}
		// chunk.Data aliases buf
		data := append([]byte(nil), chunk.Data...)
		if !yield(newChunk(data), nil) {
			return
		}
	}
}

// ChunksOf slices an in-memory buffer into fixed windows.
func ChunksOf(data []byte, windowSize int) iter.Seq2[Chunk, error] {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return func(yield func(Chunk, error) bool) {
		for start := 0; start < len(data); start += windowSize {
			end := min(start+windowSize, len(data))
			if !yield(newChunk(data[start:end]), nil) {
				return
			}
		}
	}
}
