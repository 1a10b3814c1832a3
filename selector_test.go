package adaptive

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
)

// plugged returns a context with no battery, network or memory pressure.
func plugged(p Priority) DecisionContext {
	return DecisionContext{
		Priority:       p,
		MaxTimeSeconds: 60,
		RAMAvailableGB: 16,
		BatteryPct:     100,
	}
}

func TestSelectRepetitiveTextPrefersStrongestCodec(t *testing.T) {
	data := bytes.Repeat([]byte("A"), 10000)
	fv := AnalyzeSample(data, int64(len(data)))

	if fv.Entropy != 0 {
		t.Errorf("Expected entropy 0, got %v", fv.Entropy)
	}
	if fv.Repetition < 0.99 {
		t.Errorf("Expected repetition near 1, got %v", fv.Repetition)
	}

	got := NewDecisionEngine(nil).Select(fv, plugged(PrioritySize))
	if got != CodecPaq {
		t.Errorf("Expected %s, got %s", CodecPaq, got)
	}
}

func TestSelectRandomDataSkips(t *testing.T) {
	sample := CalibrationPayload(7)[:FeatureSampleSize]
	fv := AnalyzeSample(sample, 100*1024*1024)

	if fv.Entropy < skipEntropy {
		t.Fatalf("Expected entropy >= %v, got %v", skipEntropy, fv.Entropy)
	}
	if got := NewDecisionEngine(nil).Select(fv, plugged(PriorityBalanced)); got != CodecSkip {
		t.Errorf("Expected %s, got %s", CodecSkip, got)
	}
}

func TestSelectSkipBoundary(t *testing.T) {
	tests := []struct {
		entropy float64
		skip    bool
	}{
		{8.00, true},
		{7.99, true},
		{7.98, false},
		{5.00, false},
	}

	engine := NewDecisionEngine(nil)
	for _, tt := range tests {
		fv := &FeatureVector{Entropy: tt.entropy, SizeBytes: 10 * 1024 * 1024}
		got := engine.Select(fv, plugged(PriorityBalanced))
		if (got == CodecSkip) != tt.skip {
			t.Errorf("entropy %.2f: got %s, want skip=%v", tt.entropy, got, tt.skip)
		}
	}
}

func TestSelectMedia(t *testing.T) {
	tests := []struct {
		name    string
		visual  Visual
		entropy float64
		want    CodecID
	}{
		{"image", Visual{IsImage: true, Format: "png"}, 6.5, CodecWebP},
		{"video", Visual{IsVideo: true, Format: "mp4"}, 6.5, CodecFFmpeg},
		{"high entropy image is not skipped", Visual{IsImage: true}, 8.0, ""},
	}

	engine := NewDecisionEngine(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fv := &FeatureVector{Entropy: tt.entropy, SizeBytes: 5 * 1024 * 1024, Visual: tt.visual}
			d := engine.Explain(fv, plugged(PriorityBalanced))
			if tt.want != "" {
				if d.Codec != tt.want {
					t.Errorf("Expected %s, got %s", tt.want, d.Codec)
				}
				return
			}
			if d.Codec == CodecSkip {
				t.Fatal("Media must not be skipped on entropy alone")
			}
			for _, s := range d.Scores {
				if s.ExpectedRatio < mediaRatioFloor {
					t.Errorf("%s: expected ratio >= %v for optimised media, got %v",
						s.Codec, mediaRatioFloor, s.ExpectedRatio)
				}
			}
		})
	}
}

func TestSelectGuards(t *testing.T) {
	fv := &FeatureVector{Entropy: 5, SizeBytes: 10 * 1024 * 1024}

	tests := []struct {
		name         string
		fv           *FeatureVector
		dc           func(DecisionContext) DecisionContext
		wantPriority Priority
		excluded     map[CodecID]string
		allowed      []CodecID
	}{
		{
			name:         "battery moves toward speed",
			dc:           func(dc DecisionContext) DecisionContext { dc.OnBattery = true; return dc },
			wantPriority: PriorityBalanced,
			allowed:      []CodecID{CodecPaq},
		},
		{
			name: "congested network-aware favours size",
			dc: func(dc DecisionContext) DecisionContext {
				dc.Priority, dc.NetworkCongested, dc.NetworkAware = PrioritySpeed, true, true
				return dc
			},
			wantPriority: PrioritySize,
		},
		{
			name: "congestion ignored unless network-aware",
			dc: func(dc DecisionContext) DecisionContext {
				dc.Priority, dc.NetworkCongested = PrioritySpeed, true
				return dc
			},
			wantPriority: PrioritySpeed,
		},
		{
			name:         "low memory drops paq",
			dc:           func(dc DecisionContext) DecisionContext { dc.RAMAvailableGB = 2; return dc },
			wantPriority: PrioritySize,
			excluded:     map[CodecID]string{CodecPaq: "memory"},
		},
		{
			name: "low battery drops paq",
			dc: func(dc DecisionContext) DecisionContext {
				dc.OnBattery, dc.BatteryPct = true, 25
				return dc
			},
			wantPriority: PriorityBalanced,
			excluded:     map[CodecID]string{CodecPaq: "memory"},
		},
		{
			name:         "large input drops paq",
			fv:           &FeatureVector{Entropy: 5, SizeBytes: 600 * 1024 * 1024},
			wantPriority: PrioritySize,
			excluded:     map[CodecID]string{CodecPaq: "input too large"},
		},
		{
			name:         "media codecs need media",
			wantPriority: PrioritySize,
			excluded:     map[CodecID]string{CodecWebP: "image only", CodecFFmpeg: "video only"},
			allowed:      []CodecID{CodecZstd, Codec7zip, CodecPaq},
		},
	}

	engine := NewDecisionEngine(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := fv
			if tt.fv != nil {
				in = tt.fv
			}
			dc := plugged(PrioritySize)
			if tt.dc != nil {
				dc = tt.dc(dc)
			}

			d := engine.Explain(in, dc)
			if d.Priority != tt.wantPriority {
				t.Errorf("Expected priority %s, got %s", tt.wantPriority, d.Priority)
			}
			for id, reason := range tt.excluded {
				if d.Excluded[id] != reason {
					t.Errorf("Expected %s excluded for %q, got %q", id, reason, d.Excluded[id])
				}
				if d.Codec == id {
					t.Errorf("Excluded codec %s was selected", id)
				}
			}
			for _, id := range tt.allowed {
				if _, ok := d.Excluded[id]; ok {
					t.Errorf("Expected %s to be scored, excluded for %q", id, d.Excluded[id])
				}
			}
		})
	}
}

func TestSelectPriorityChangesChoice(t *testing.T) {
	fv := &FeatureVector{Entropy: 2, SizeBytes: 200 * 1024 * 1024}
	engine := NewDecisionEngine(nil)

	if got := engine.Select(fv, plugged(PrioritySpeed)); got != CodecZstd {
		t.Errorf("speed: expected %s, got %s", CodecZstd, got)
	}
	if got := engine.Select(fv, plugged(PrioritySize)); got != Codec7zip {
		t.Errorf("size: expected %s, got %s", Codec7zip, got)
	}
}

func TestSelectOverBudget(t *testing.T) {
	// paq needs 2.5s per MiB; a one second budget puts it over
	fv := &FeatureVector{Entropy: 5, SizeBytes: 10 * 1024 * 1024}
	dc := plugged(PrioritySize)
	dc.MaxTimeSeconds = 1

	d := NewDecisionEngine(nil).Explain(fv, dc)
	for _, s := range d.Scores {
		if s.Codec == CodecPaq && s.Score > -overBudgetPenalty {
			t.Errorf("Expected paq penalised below %d, got %.2f", -overBudgetPenalty, s.Score)
		}
	}
	if d.Codec == CodecPaq {
		t.Error("Over-budget codec was selected")
	}
}

func TestSelectNonPositiveInputs(t *testing.T) {
	engine := NewDecisionEngine(nil)

	t.Run("zero size", func(t *testing.T) {
		d := engine.Explain(&FeatureVector{Entropy: 3}, plugged(PriorityBalanced))
		for _, s := range d.Scores {
			if s.Score != invalidSizeScore {
				t.Errorf("%s: expected score %d, got %v", s.Codec, invalidSizeScore, s.Score)
			}
		}
		if d.Codec != CodecZstd {
			t.Errorf("Expected first candidate on a tie, got %s", d.Codec)
		}
	})

	t.Run("zero time budget", func(t *testing.T) {
		dc := plugged(PriorityBalanced)
		dc.MaxTimeSeconds = 0
		d := engine.Explain(&FeatureVector{Entropy: 3, SizeBytes: 1024}, dc)
		if d.Codec == CodecSkip || len(d.Scores) == 0 {
			t.Errorf("Expected a scored decision, got %v", d)
		}
	})

	t.Run("nil features", func(t *testing.T) {
		if got := engine.Select(nil, plugged(PriorityBalanced)); got != CodecZstd {
			t.Errorf("Expected default %s, got %s", CodecZstd, got)
		}
	})
}

func TestSelectUncalibratedCodec(t *testing.T) {
	table := &CalibrationTable{version: 1, entries: map[CodecID]CodecPerf{
		CodecZstd: {RatioFactor: 0.55, SpeedMBps: 70},
	}}
	d := NewDecisionEngine(table).Explain(&FeatureVector{Entropy: 5, SizeBytes: 1 << 20}, plugged(PrioritySize))

	if d.Codec != CodecZstd {
		t.Errorf("Expected %s, got %s", CodecZstd, d.Codec)
	}
	if d.Excluded[Codec7zip] != "not calibrated" {
		t.Errorf("Expected 7zip excluded as uncalibrated, got %q", d.Excluded[Codec7zip])
	}
}

func TestSelectIsDeterministic(t *testing.T) {
	fv := AnalyzeSample(generateTestData(FeatureSampleSize), 50*1024*1024)
	dc := plugged(PriorityBalanced)
	dc.OnBattery, dc.BatteryPct = true, 60

	engine := NewDecisionEngine(nil)
	first := engine.Explain(fv, dc)
	for i := 0; i < 10; i++ {
		if again := engine.Explain(fv, dc); !reflect.DeepEqual(first, again) {
			t.Fatalf("Decision changed between runs: %v vs %v", first, again)
		}
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{"speed", PrioritySpeed, false},
		{" Balanced ", PriorityBalanced, false},
		{"SIZE", PrioritySize, false},
		{"warp", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePriority(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParsePriority(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestNewDecisionContext(t *testing.T) {
	tel := StaticTelemetry{OnBattery: true, BatteryPct: 40, Congested: true, LinkKbps: 256, RAMGB: 4}
	dc := NewDecisionContext(PrioritySize, 30, true, tel)

	want := DecisionContext{
		Priority:         PrioritySize,
		MaxTimeSeconds:   30,
		RAMAvailableGB:   4,
		OnBattery:        true,
		BatteryPct:       40,
		NetworkCongested: true,
		NetworkAware:     true,
	}
	if dc != want {
		t.Errorf("Expected %+v, got %+v", want, dc)
	}
	if !strings.Contains(NewDecisionEngine(nil).Explain(&FeatureVector{Entropy: 8}, dc).Reason, "incompressible") {
		t.Error("Expected incompressible reason for entropy 8")
	}
}
