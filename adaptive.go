package adaptive

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	kiB = 1024
	miB = 1024 * kiB

	// DefaultWindowSize is the fixed slicing window.
	DefaultWindowSize = 1 * miB

	// DefaultMaxBlockSize caps a SuperBlock unless it holds a single
	// oversized chunk.
	DefaultMaxBlockSize = 8 * miB

	// DefaultCodecTimeout bounds one codec invocation.
	DefaultCodecTimeout = 30 * time.Second

	// ContainerExtension is appended to compressed outputs.
	ContainerExtension = ".adapt"
)

// Label is the content class assigned to a chunk or block.
type Label uint8

const (
	LabelMixedBinary Label = iota
	LabelText
	LabelImage
	LabelBinaryCompressed
)

var labelNames = map[Label]string{
	LabelMixedBinary:      "MIXED_BINARY",
	LabelText:             "TEXT",
	LabelImage:            "IMAGE",
	LabelBinaryCompressed: "BINARY_COMPRESSED",
}

// Labels lists every label in a fixed order.
func Labels() []Label {
	return []Label{LabelText, LabelImage, LabelBinaryCompressed, LabelMixedBinary}
}

// String returns the manifest spelling of the label.
func (l Label) String() string {
	if name, ok := labelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LABEL(%d)", uint8(l))
}

// ParseLabel parses a label from its manifest spelling.
func ParseLabel(name string) (Label, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for label, n := range labelNames {
		if n == upper {
			return label, nil
		}
	}
	return 0, fmt.Errorf("adaptive: unknown label %q", name)
}

// MarshalText encodes the label as its manifest spelling.
func (l Label) MarshalText() ([]byte, error) {
	if _, ok := labelNames[l]; !ok {
		return nil, fmt.Errorf("adaptive: invalid label %d", uint8(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText decodes a label from its manifest spelling.
func (l *Label) UnmarshalText(text []byte) error {
	parsed, err := ParseLabel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// AlgoTag names the codec and level that produced a block's bytes.
type AlgoTag string

// TagStore marks an uncompressed passthrough block.
const TagStore AlgoTag = "STORE"

// NewAlgoTag builds the tag for a codec at a level.
func NewAlgoTag(codec string, level Level) AlgoTag {
	return AlgoTag(codec + "/" + level.String())
}

// Codec returns the codec part of the tag.
func (t AlgoTag) Codec() string {
	name, _, _ := strings.Cut(string(t), "/")
	return name
}

// Config holds engine configuration
type Config struct {
	// Fixed slicing window (default: 1MiB)
	WindowSize int

	// Content-defined slicing bounds; zero values disable it
	ContentDefinedMin int
	ContentDefinedMax int

	// SuperBlock size cap (default: 8MiB)
	MaxBlockSize int

	// Bound for a single codec invocation (default: 30s)
	CodecTimeout time.Duration

	// Label-driven codec preference; nil means DefaultPolicy()
	Policy Policy

	// Codec adapters; nil means DefaultCodecs()
	Codecs *CodecSet

	// Return IntegrityError instead of logging it
	StrictIntegrity bool

	// Consult the DecisionEngine in batches and skip files it declines
	SkipIncompressible bool

	// Regex patterns for batch inputs to leave alone
	SkipPatterns []string

	// Decision inputs for batch runs and predictions
	Priority       Priority
	MaxTimeSeconds float64
	NetworkAware   bool

	// Environment source for decisions; nil means SystemTelemetry()
	Telemetry Telemetry

	// Calibration snapshot store; nil means a store seeded with defaults
	Calibration *CalibrationStore

	// Logger for warnings and per-block debug output
	Logger logrus.FieldLogger
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		WindowSize:     DefaultWindowSize,
		MaxBlockSize:   DefaultMaxBlockSize,
		CodecTimeout:   DefaultCodecTimeout,
		Policy:         DefaultPolicy(),
		Priority:       PriorityBalanced,
		MaxTimeSeconds: 60,
	}
}

// withDefaults fills zero fields without touching the caller's copy.
func (c *Config) withDefaults() *Config {
	out := *c
	if out.WindowSize <= 0 {
		out.WindowSize = DefaultWindowSize
	}
	if out.MaxBlockSize <= 0 {
		out.MaxBlockSize = DefaultMaxBlockSize
	}
	if out.CodecTimeout <= 0 {
		out.CodecTimeout = DefaultCodecTimeout
	}
	if out.Policy == nil {
		out.Policy = DefaultPolicy()
	}
	if out.Codecs == nil {
		out.Codecs = DefaultCodecs()
	}
	if out.Priority == "" {
		out.Priority = PriorityBalanced
	}
	if out.MaxTimeSeconds <= 0 {
		out.MaxTimeSeconds = 60
	}
	if out.Telemetry == nil {
		out.Telemetry = SystemTelemetry()
	}
	if out.Calibration == nil {
		out.Calibration = NewCalibrationStore(DefaultCalibration())
	}
	if out.Logger == nil {
		out.Logger = logrus.StandardLogger()
	}
	return &out
}

// Stats holds engine statistics
type Stats struct {
	FilesCompressed   int64
	FilesDecompressed int64
	FilesSkipped      int64
	FilesFailed       int64

	BlocksWritten     int64
	BytesIn           int64
	BytesOut          int64
	IntegrityFailures int64

	AlgorithmCounts sync.Map // map[AlgoTag]*int64
}

// GetAlgorithmCount returns how many blocks used a tag
func (s *Stats) GetAlgorithmCount(tag AlgoTag) int64 {
	if val, ok := s.AlgorithmCounts.Load(tag); ok {
		return atomic.LoadInt64(val.(*int64))
	}
	return 0
}

// IncrementAlgorithmCount increments the count for a tag
func (s *Stats) IncrementAlgorithmCount(tag AlgoTag) {
	val, _ := s.AlgorithmCounts.LoadOrStore(tag, new(int64))
	atomic.AddInt64(val.(*int64), 1)
}

// TotalCompressionRatio returns output bytes over input bytes
func (s *Stats) TotalCompressionRatio() float64 {
	in := atomic.LoadInt64(&s.BytesIn)
	if in == 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&s.BytesOut)) / float64(in)
}
