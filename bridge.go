package adaptive

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// CodecBridge compresses SuperBlocks by walking the label's attempt chain.
// Its output is never longer than its input: when every attempt fails or
// expands the data, the block is stored as is.
type CodecBridge struct {
	codecs  *CodecSet
	policy  Policy
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewCodecBridge creates a bridge. Nil or zero arguments take the defaults.
func NewCodecBridge(codecs *CodecSet, policy Policy, timeout time.Duration, logger logrus.FieldLogger) *CodecBridge {
	if codecs == nil {
		codecs = DefaultCodecs()
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	if timeout <= 0 {
		timeout = DefaultCodecTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CodecBridge{codecs: codecs, policy: policy, timeout: timeout, log: logger}
}

// Compress returns the block's bytes and the tag that decodes them. It does
// not fail; codec errors are logged and the next attempt runs.
func (b *CodecBridge) Compress(ctx context.Context, block SuperBlock) ([]byte, AlgoTag) {
	raw := block.Data
	log := b.log.WithField("label", block.Label)

	for _, attempt := range b.policy[block.Label] {
		out, tag, err := b.attempt(ctx, attempt, raw)
		if err != nil {
			log.WithError(err).WithField("algo", attempt).Warn("codec attempt failed, falling back")
			continue
		}
		if len(out) >= len(raw) {
			log.WithField("algo", tag).Debugf("codec output %d >= input %d, storing", len(out), len(raw))
			break
		}
		return out, tag
	}
	return raw, TagStore
}

func (b *CodecBridge) attempt(ctx context.Context, a Attempt, raw []byte) ([]byte, AlgoTag, error) {
	codec, ok := b.codecs.Lookup(a.Codec)
	if !ok {
		return nil, "", &CodecError{Codec: a.Codec, Op: "compress", Err: ErrUnknownCodec}
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	out, tag, err := codec.Compress(ctx, raw, a.Level)
	if err != nil {
		return nil, "", err
	}
	if tag.Codec() != codec.Name() {
		return nil, "", &CodecError{Codec: a.Codec, Op: "compress", Tag: tag, Err: ErrUnknownCodec}
	}
	return out, tag, nil
}

// Decompress decodes data produced under tag. STORE is the identity.
func (b *CodecBridge) Decompress(ctx context.Context, data []byte, tag AlgoTag) ([]byte, error) {
	if tag == TagStore {
		return data, nil
	}
	codec, err := b.codecs.ForTag(tag)
	if err != nil {
		return nil, &CodecError{Codec: tag.Codec(), Op: "decompress", Tag: tag, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return codec.Decompress(ctx, data, tag)
}
