package adaptive

import (
	"io/fs"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML form of Config. Zero values keep the defaults.
//
//	window_size: 1048576
//	max_block_size: 8388608
//	codec_timeout: 30s
//	priority: size
//	policy:
//	  TEXT: [zstd/max, brotli/fast]
//	external_codecs:
//	  zpaq:
//	    fast: zpaq add {out} {in} -m1
//	    max: zpaq add {out} {in} -m5
//	    decompress: zpaq x {in} -to {out}
type FileConfig struct {
	WindowSize         int                      `yaml:"window_size"`
	ContentDefined     *ContentDefinedConfig    `yaml:"content_defined,omitempty"`
	MaxBlockSize       int                      `yaml:"max_block_size"`
	CodecTimeout       time.Duration            `yaml:"codec_timeout"`
	Policy             map[string][]string      `yaml:"policy,omitempty"`
	ExternalCodecs     map[string]ExternalCodec `yaml:"external_codecs,omitempty"`
	StrictIntegrity    bool                     `yaml:"strict_integrity"`
	SkipIncompressible bool                     `yaml:"skip_incompressible"`
	SkipPatterns       []string                 `yaml:"skip_patterns,omitempty"`
	Priority           string                   `yaml:"priority"`
	MaxTimeSeconds     float64                  `yaml:"max_time_seconds"`
	NetworkAware       bool                     `yaml:"network_aware"`
	Telemetry          *StaticTelemetry         `yaml:"telemetry,omitempty"`
	Calibration        map[CodecID]CodecPerf    `yaml:"calibration,omitempty"`
	CalibrationFile    string                   `yaml:"calibration_file,omitempty"`
	LogLevel           string                   `yaml:"log_level,omitempty"`
}

// ContentDefinedConfig bounds content-defined chunk sizes.
type ContentDefinedConfig struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// ExternalCodec describes a command-line codec.
type ExternalCodec struct {
	Fast       string `yaml:"fast"`
	Max        string `yaml:"max"`
	Decompress string `yaml:"decompress"`
}

// LoadConfig reads the YAML file at path and builds a Config. The path is
// explicit; nothing is searched for.
func LoadConfig(path string) (*Config, *FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading config %s", path)
	}
	return ParseConfig(data)
}

// ParseConfig builds a Config from YAML bytes.
func ParseConfig(data []byte) (*Config, *FileConfig, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, nil, errors.Wrap(err, "parsing config")
	}
	cfg, err := fc.Build()
	if err != nil {
		return nil, nil, err
	}
	return cfg, &fc, nil
}

// Build converts the file form into a Config on top of DefaultConfig.
func (fc *FileConfig) Build() (*Config, error) {
	cfg := DefaultConfig()

	if fc.WindowSize > 0 {
		cfg.WindowSize = fc.WindowSize
	}
	if fc.ContentDefined != nil {
		if fc.ContentDefined.Min <= 0 || fc.ContentDefined.Max < fc.ContentDefined.Min {
			return nil, errors.Errorf("adaptive: content_defined bounds %d..%d are invalid",
				fc.ContentDefined.Min, fc.ContentDefined.Max)
		}
		cfg.ContentDefinedMin = fc.ContentDefined.Min
		cfg.ContentDefinedMax = fc.ContentDefined.Max
	}
	if fc.MaxBlockSize > 0 {
		cfg.MaxBlockSize = fc.MaxBlockSize
	}
	if fc.CodecTimeout > 0 {
		cfg.CodecTimeout = fc.CodecTimeout
	}

	if len(fc.Policy) > 0 {
		policy, err := ParsePolicy(fc.Policy)
		if err != nil {
			return nil, err
		}
		cfg.Policy = policy
	}

	if len(fc.ExternalCodecs) > 0 {
		codecs := DefaultCodecs()
		for name, ext := range fc.ExternalCodecs {
			codecs.Register(NewExecCodec(name, ext.Fast, ext.Max, ext.Decompress))
		}
		cfg.Codecs = codecs
	}

	cfg.StrictIntegrity = fc.StrictIntegrity
	cfg.SkipIncompressible = fc.SkipIncompressible
	cfg.SkipPatterns = fc.SkipPatterns
	cfg.NetworkAware = fc.NetworkAware

	if fc.Priority != "" {
		p, err := ParsePriority(fc.Priority)
		if err != nil {
			return nil, err
		}
		cfg.Priority = p
	}
	if fc.MaxTimeSeconds > 0 {
		cfg.MaxTimeSeconds = fc.MaxTimeSeconds
	}
	if fc.Telemetry != nil {
		cfg.Telemetry = *fc.Telemetry
	}

	if len(fc.Calibration) > 0 {
		cfg.Calibration = NewCalibrationStore(DefaultCalibration().With(fc.Calibration))
	}
	if fc.CalibrationFile != "" {
		table, err := LoadCalibration(OSFS(), fc.CalibrationFile)
		switch {
		case err == nil:
			cfg.Calibration = NewCalibrationStore(table)
		case !errors.Is(err, fs.ErrNotExist):
			return nil, err
		}
	}

	if fc.LogLevel != "" {
		level, err := logrus.ParseLevel(fc.LogLevel)
		if err != nil {
			return nil, errors.Wrap(err, "log_level")
		}
		logger := logrus.New()
		logger.SetLevel(level)
		cfg.Logger = logger
	}
	return cfg, nil
}
