package adaptive

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Level selects between a codec's fast and strongest settings.
type Level uint8

const (
	LevelFast Level = iota
	LevelMax
)

func (l Level) String() string {
	switch l {
	case LevelFast:
		return "fast"
	case LevelMax:
		return "max"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

// ParseLevel parses "fast" or "max".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast":
		return LevelFast, nil
	case "max":
		return LevelMax, nil
	}
	return 0, errors.Wrapf(ErrInvalidLevel, "%q", s)
}

// Level returns the level part of the tag. STORE has no level.
func (t AlgoTag) Level() (Level, error) {
	_, level, ok := strings.Cut(string(t), "/")
	if !ok {
		return 0, errors.Wrapf(ErrInvalidLevel, "tag %q", t)
	}
	return ParseLevel(level)
}

// Codec is a compression capability the bridge can invoke. Implementations
// must honor ctx cancellation or return promptly after it.
type Codec interface {
	Name() string
	Compress(ctx context.Context, raw []byte, level Level) ([]byte, AlgoTag, error)
	Decompress(ctx context.Context, data []byte, tag AlgoTag) ([]byte, error)
}

// CodecSet maps codec names to adapters. Tags are routed to adapters by
// their codec prefix.
type CodecSet struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewCodecSet creates a set holding the given codecs.
func NewCodecSet(codecs ...Codec) *CodecSet {
	s := &CodecSet{codecs: make(map[string]Codec)}
	for _, c := range codecs {
		s.Register(c)
	}
	return s
}

// Register adds or replaces a codec under its name.
func (s *CodecSet) Register(c Codec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codecs[c.Name()] = c
}

// Lookup returns the codec registered under name.
func (s *CodecSet) Lookup(name string) (Codec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.codecs[name]
	return c, ok
}

// ForTag returns the codec that decodes tag.
func (s *CodecSet) ForTag(tag AlgoTag) (Codec, error) {
	c, ok := s.Lookup(tag.Codec())
	if !ok {
		return nil, errors.Wrapf(ErrUnknownCodec, "tag %q", tag)
	}
	return c, nil
}

// Names lists the registered codec names in sorted order.
func (s *CodecSet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.codecs))
	for name := range s.codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultCodecs returns the in-process codecs.
func DefaultCodecs() *CodecSet {
	return NewCodecSet(
		storeCodec{},
		NewZstdCodec(),
		xzCodec{},
		lz4Codec{},
		brotliCodec{},
		snappyCodec{},
		gzipCodec{},
	)
}

// Attempt is one codec invocation in a fallback chain.
type Attempt struct {
	Codec string
	Level Level
}

func (a Attempt) String() string {
	return string(NewAlgoTag(a.Codec, a.Level))
}

// ParseAttempt parses "codec/level".
func ParseAttempt(s string) (Attempt, error) {
	name, level, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || name == "" {
		return Attempt{}, errors.Errorf("adaptive: attempt %q is not codec/level", s)
	}
	l, err := ParseLevel(level)
	if err != nil {
		return Attempt{}, err
	}
	return Attempt{Codec: name, Level: l}, nil
}

// Policy lists, per label, the attempts tried in order before STORE.
type Policy map[Label][]Attempt

// DefaultPolicy returns the label-driven default chain.
func DefaultPolicy() Policy {
	archival := []Attempt{{"xz", LevelMax}, {"zstd", LevelFast}}
	return Policy{
		LabelText:             {{"zstd", LevelMax}, {"brotli", LevelFast}},
		LabelImage:            archival,
		LabelMixedBinary:      archival,
		LabelBinaryCompressed: {{"lz4", LevelFast}},
	}
}

// ParsePolicy builds a policy from label names to attempt strings, as
// found in config files. Labels left out keep their default chain.
func ParsePolicy(raw map[string][]string) (Policy, error) {
	policy := DefaultPolicy()
	for labelName, attempts := range raw {
		label, err := ParseLabel(labelName)
		if err != nil {
			return nil, err
		}
		chain := make([]Attempt, 0, len(attempts))
		for _, s := range attempts {
			a, err := ParseAttempt(s)
			if err != nil {
				return nil, errors.Wrapf(err, "policy for %s", label)
			}
			chain = append(chain, a)
		}
		policy[label] = chain
	}
	return policy, nil
}

// Validate checks that every codec the policy names is in the set.
func (p Policy) Validate(codecs *CodecSet) error {
	for _, label := range Labels() {
		for _, a := range p[label] {
			if _, ok := codecs.Lookup(a.Codec); !ok {
				return errors.Wrapf(ErrUnknownCodec, "policy for %s names %q", label, a.Codec)
			}
		}
	}
	return nil
}
