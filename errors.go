package adaptive

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrFileAccess      = errors.New("adaptive: file access failed")
	ErrCodec           = errors.New("adaptive: codec failed")
	ErrIntegrity       = errors.New("adaptive: integrity check failed")
	ErrContainerFormat = errors.New("adaptive: invalid container format")
	ErrUnknownCodec    = errors.New("adaptive: unknown codec")
	ErrInvalidLevel    = errors.New("adaptive: invalid compression level")
)

// FileAccessError reports an unreadable or missing input. It is fatal for
// that file only.
type FileAccessError struct {
	Path string
	Err  error
}

func (e *FileAccessError) Error() string {
	return fmt.Sprintf("adaptive: cannot access %s: %v", e.Path, e.Err)
}

func (e *FileAccessError) Unwrap() error { return e.Err }

func (e *FileAccessError) Is(target error) bool { return target == ErrFileAccess }

// CodecError reports a failed or timed-out codec invocation.
type CodecError struct {
	Codec string
	Op    string // "compress" or "decompress"
	Tag   AlgoTag
	Err   error
}

func (e *CodecError) Error() string {
	if e.Tag != "" {
		return fmt.Sprintf("adaptive: %s %s (%s): %v", e.Codec, e.Op, e.Tag, e.Err)
	}
	return fmt.Sprintf("adaptive: %s %s: %v", e.Codec, e.Op, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

func (e *CodecError) Is(target error) bool { return target == ErrCodec }

// IntegrityError reports a block whose decoded bytes do not match the
// recorded checksum, or that could not be decoded at all.
type IntegrityError struct {
	BlockID  uint64
	Expected uint32
	Actual   uint32
	Err      error // decode failure, nil for a plain mismatch
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("adaptive: block %d undecodable: %v", e.BlockID, e.Err)
	}
	return fmt.Sprintf("adaptive: block %d checksum mismatch: expected %08x, got %08x",
		e.BlockID, e.Expected, e.Actual)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

// FormatError reports a container that cannot be parsed. It is fatal for
// the whole container.
type FormatError struct {
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("adaptive: container: %s: %v", e.Reason, e.Err)
	}
	return "adaptive: container: " + e.Reason
}

func (e *FormatError) Unwrap() error { return e.Err }

func (e *FormatError) Is(target error) bool { return target == ErrContainerFormat }

func formatErrorf(format string, args ...interface{}) *FormatError {
	return &FormatError{Reason: fmt.Sprintf(format, args...)}
}
