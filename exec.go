package adaptive

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
	"github.com/pkg/errors"
)

const (
	placeholderIn  = "{in}"
	placeholderOut = "{out}"
)

// ExecCodec runs an external tool per block. Commands are shell-like
// templates; {in} is replaced by a scratch file holding the input and
// {out} by the path the tool must write. Without {out} the tool's stdout
// is the result.
//
//	zstd -19 -q -f {in} -o {out}
//	xz -9 -c {in}
type ExecCodec struct {
	CodecName     string
	CompressCmd   map[Level]string
	DecompressCmd string

	// Scratch directory parent; empty means os.TempDir()
	TempDir string
}

// NewExecCodec creates an external codec with fast and max compress
// commands and one decompress command.
func NewExecCodec(name, fast, best, decompress string) *ExecCodec {
	return &ExecCodec{
		CodecName:     name,
		CompressCmd:   map[Level]string{LevelFast: fast, LevelMax: best},
		DecompressCmd: decompress,
	}
}

func (c *ExecCodec) Name() string { return c.CodecName }

func (c *ExecCodec) Compress(ctx context.Context, raw []byte, level Level) ([]byte, AlgoTag, error) {
	tag := NewAlgoTag(c.CodecName, level)
	template, ok := c.CompressCmd[level]
	if !ok || template == "" {
		return nil, "", &CodecError{Codec: c.CodecName, Op: "compress", Tag: tag, Err: ErrInvalidLevel}
	}
	out, err := c.run(ctx, template, raw)
	if err != nil {
		return nil, "", &CodecError{Codec: c.CodecName, Op: "compress", Tag: tag, Err: err}
	}
	return out, tag, nil
}

func (c *ExecCodec) Decompress(ctx context.Context, data []byte, tag AlgoTag) ([]byte, error) {
	if _, err := checkTag(c.CodecName, tag); err != nil {
		return nil, err
	}
	out, err := c.run(ctx, c.DecompressCmd, data)
	if err != nil {
		return nil, &CodecError{Codec: c.CodecName, Op: "decompress", Tag: tag, Err: err}
	}
	return out, nil
}

// run executes one command in a fresh scratch directory that is removed on
// every return path.
func (c *ExecCodec) run(ctx context.Context, template string, input []byte) ([]byte, error) {
	args, err := shlex.Split(template)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing command %q", template)
	}
	if len(args) == 0 {
		return nil, errors.Errorf("empty command for %s", c.CodecName)
	}

	dir, err := os.MkdirTemp(c.TempDir, "adapt-"+c.CodecName+"-")
	if err != nil {
		return nil, errors.Wrap(err, "creating scratch dir")
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "input.raw")
	outPath := filepath.Join(dir, "output.bin")
	if err := os.WriteFile(inPath, input, 0600); err != nil {
		return nil, errors.Wrap(err, "writing scratch input")
	}

	usesOut := false
	for i, arg := range args {
		if strings.Contains(arg, placeholderOut) {
			usesOut = true
		}
		arg = strings.ReplaceAll(arg, placeholderIn, inPath)
		args[i] = strings.ReplaceAll(arg, placeholderOut, outPath)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, errors.Wrapf(err, "%s: %s", args[0], msg)
		}
		return nil, errors.Wrap(err, args[0])
	}

	if !usesOut {
		if stdout.Len() > maxOriginalSize {
			return nil, errors.Errorf("%s wrote more than %d bytes", args[0], maxOriginalSize)
		}
		return stdout.Bytes(), nil
	}
	f, err := os.Open(outPath)
	if err != nil {
		return nil, errors.Wrap(err, "reading scratch output")
	}
	defer f.Close()
	out, err := readAllLimited(f)
	if err != nil {
		return nil, errors.Wrap(err, "reading scratch output")
	}
	return out, nil
}
