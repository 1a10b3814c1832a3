package adaptive

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// CodecID names a whole-file codec the DecisionEngine can recommend.
type CodecID string

const (
	CodecZstd   CodecID = "zstd"
	Codec7zip   CodecID = "7zip"
	CodecPaq    CodecID = "paq"
	CodecWebP   CodecID = "webp"
	CodecFFmpeg CodecID = "ffmpeg"

	// CodecSkip means compressing the file is not worth it.
	CodecSkip CodecID = "SKIP"
)

// Candidates lists the codecs in scoring order. On equal scores the
// earlier codec wins.
func Candidates() []CodecID {
	return []CodecID{CodecZstd, Codec7zip, CodecPaq, CodecWebP, CodecFFmpeg}
}

// Priority is the caller's trade-off between output size and time.
type Priority string

const (
	PrioritySpeed    Priority = "speed"
	PriorityBalanced Priority = "balanced"
	PrioritySize     Priority = "size"
)

// ParsePriority parses speed, balanced or size.
func ParsePriority(s string) (Priority, error) {
	switch p := Priority(strings.ToLower(strings.TrimSpace(s))); p {
	case PrioritySpeed, PriorityBalanced, PrioritySize:
		return p, nil
	}
	return "", errors.Errorf("adaptive: unknown priority %q", s)
}

// faster moves the priority one step toward speed.
func (p Priority) faster() Priority {
	switch p {
	case PrioritySize:
		return PriorityBalanced
	case PriorityBalanced:
		return PrioritySpeed
	}
	return PrioritySpeed
}

func (p Priority) weights() (gain, time float64) {
	switch p {
	case PrioritySize:
		return 25, 0.5
	case PrioritySpeed:
		return 1, 20
	}
	return 8, 4
}

// Guard thresholds
const (
	skipEntropy        = 7.99
	optimizedMedia     = 7.9
	minRAMGB           = 3.0
	lowBatteryPct      = 25
	largeInputBytes    = 500 * miB
	mediaRatioFloor    = 0.99
	repetitionBonusMin = 0.2
	repetitionWeight   = 0.12
	overBudgetPenalty  = 500
	invalidSizeScore   = -99999
)

// RAM-heavy codecs are dropped under memory pressure and for large inputs.
var ramHeavyCodecs = map[CodecID]bool{CodecPaq: true}

// DecisionContext is the caller's constraints and the environment at the
// time of one decision.
type DecisionContext struct {
	Priority         Priority `json:"priority" yaml:"priority"`
	MaxTimeSeconds   float64  `json:"max_time_seconds" yaml:"max_time_seconds"`
	RAMAvailableGB   float64  `json:"ram_available_gb" yaml:"ram_available_gb"`
	OnBattery        bool     `json:"on_battery" yaml:"on_battery"`
	BatteryPct       int      `json:"battery_pct" yaml:"battery_pct"`
	NetworkCongested bool     `json:"network_congested" yaml:"network_congested"`
	NetworkAware     bool     `json:"network_aware" yaml:"network_aware"`
}

// NewDecisionContext reads the environment from t.
func NewDecisionContext(priority Priority, maxTimeSeconds float64, networkAware bool, t Telemetry) DecisionContext {
	onBattery, pct := t.BatteryStatus()
	congested, _ := t.NetworkStatus()
	return DecisionContext{
		Priority:         priority,
		MaxTimeSeconds:   maxTimeSeconds,
		RAMAvailableGB:   t.AvailableRAMGB(),
		OnBattery:        onBattery,
		BatteryPct:       pct,
		NetworkCongested: congested,
		NetworkAware:     networkAware,
	}
}

// Score is one candidate's prediction.
type Score struct {
	Codec         CodecID
	ExpectedRatio float64
	ExpectedSize  float64
	ExpectedTime  float64
	Score         float64
}

// Decision explains a Select result.
type Decision struct {
	Codec    CodecID
	Reason   string
	Priority Priority // effective priority after guards
	Excluded map[CodecID]string
	Scores   []Score
}

func (d Decision) String() string {
	return fmt.Sprintf("%s (%s)", d.Codec, d.Reason)
}

// DecisionEngine picks a whole-file codec from a calibration snapshot. It
// holds no mutable state; Select is a pure function of its inputs.
type DecisionEngine struct {
	table *CalibrationTable
}

// NewDecisionEngine creates an engine over a snapshot; nil uses the
// defaults.
func NewDecisionEngine(table *CalibrationTable) *DecisionEngine {
	if table == nil {
		table = DefaultCalibration()
	}
	return &DecisionEngine{table: table}
}

// Table returns the snapshot the engine scores against.
func (e *DecisionEngine) Table() *CalibrationTable {
	return e.table
}

// Select returns the codec to use, or CodecSkip.
func (e *DecisionEngine) Select(fv *FeatureVector, dc DecisionContext) CodecID {
	return e.Explain(fv, dc).Codec
}

// Explain runs the guards and scoring and reports how the codec was chosen.
func (e *DecisionEngine) Explain(fv *FeatureVector, dc DecisionContext) Decision {
	d := Decision{Codec: CodecZstd, Priority: dc.Priority, Excluded: make(map[CodecID]string)}
	if d.Priority == "" {
		d.Priority = PriorityBalanced
	}
	if fv == nil {
		d.Reason = "no features"
		return d
	}

	media := fv.Visual.IsMedia()
	if fv.Entropy >= skipEntropy && !media {
		d.Codec, d.Reason = CodecSkip, fmt.Sprintf("entropy %.2f, incompressible", fv.Entropy)
		return d
	}

	ratioFloor := 0.0
	if media {
		if fv.Entropy < optimizedMedia {
			if fv.Visual.IsImage {
				d.Codec, d.Reason = CodecWebP, "image"
				return d
			}
			d.Codec, d.Reason = CodecFFmpeg, "video"
			return d
		}
		ratioFloor = mediaRatioFloor
	}

	if dc.OnBattery {
		d.Priority = d.Priority.faster()
	}
	if dc.NetworkCongested && dc.NetworkAware {
		d.Priority = PrioritySize
	}

	lowMemory := dc.RAMAvailableGB < minRAMGB || (dc.OnBattery && dc.BatteryPct <= lowBatteryPct)
	for _, id := range Candidates() {
		switch {
		case lowMemory && ramHeavyCodecs[id]:
			d.Excluded[id] = "memory"
		case fv.SizeBytes > largeInputBytes && ramHeavyCodecs[id]:
			d.Excluded[id] = "input too large"
		case id == CodecWebP && !fv.Visual.IsImage:
			d.Excluded[id] = "image only"
		case id == CodecFFmpeg && !fv.Visual.IsVideo:
			d.Excluded[id] = "video only"
		}
	}

	best := math.Inf(-1)
	d.Reason = "no candidate survived guards"
	for _, id := range Candidates() {
		if _, excluded := d.Excluded[id]; excluded {
			continue
		}
		perf, ok := e.table.Lookup(id)
		if !ok {
			d.Excluded[id] = "not calibrated"
			continue
		}

		s := score(fv, perf, ratioFloor, d.Priority, dc.MaxTimeSeconds)
		s.Codec = id
		d.Scores = append(d.Scores, s)
		if s.Score > best {
			best = s.Score
			d.Codec = id
			d.Reason = fmt.Sprintf("best %s score %.2f", d.Priority, s.Score)
		}
	}
	return d
}

func score(fv *FeatureVector, perf CodecPerf, ratioFloor float64, p Priority, maxTime float64) Score {
	ratio := math.Max(math.Max(perf.RatioFactor, ratioFloor), fv.Entropy/8)
	if fv.Repetition > repetitionBonusMin {
		ratio -= fv.Repetition * repetitionWeight
	}
	ratio = math.Max(0.01, math.Min(ratio, 1.01))

	size := float64(fv.SizeBytes)
	s := Score{
		ExpectedRatio: ratio,
		ExpectedSize:  size * ratio,
		ExpectedTime:  math.Inf(1),
	}
	if perf.SpeedMBps > 0 {
		s.ExpectedTime = fv.SizeMB() / perf.SpeedMBps
	}

	if size <= 0 {
		s.Score = invalidSizeScore
		return s
	}
	if maxTime <= 0 {
		maxTime = 1
	}

	wGain, wTime := p.weights()
	gain := (size - s.ExpectedSize) / size
	s.Score = wGain*gain - wTime*(s.ExpectedTime/maxTime)
	if s.ExpectedTime > maxTime {
		s.Score -= overBudgetPenalty
	}
	return s
}
