package adaptive

import (
	"bytes"
	"math"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		window []byte
		want   Label
	}{
		{"jpeg", append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, generateTestData(100)...), LabelImage},
		{"png", append([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, generateTestData(100)...), LabelImage},
		{"pdf", []byte("%PDF-1.7\n" + string(generateHighlyCompressibleData(200))), LabelImage},
		{"bmp", append([]byte("BM"), generateIncompressibleData(100)...), LabelImage},
		{"text", generateHighlyCompressibleData(64 * 1024), LabelText},
		{"random", generateIncompressibleData(64 * 1024), LabelBinaryCompressed},
		{"mixed", generateTestData(64 * 1024), LabelMixedBinary},
		{"punctuation only", bytes.Repeat([]byte("!@#$ %^&* "), 100), LabelMixedBinary},
		{"empty", nil, LabelMixedBinary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.window); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestShannonEntropy(t *testing.T) {
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}

	tests := []struct {
		name string
		data []byte
		want float64
	}{
		{"empty", nil, 0},
		{"single value", bytes.Repeat([]byte{'x'}, 1000), 0},
		{"two values", bytes.Repeat([]byte{0, 1}, 500), 1},
		{"every value once", all, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShannonEntropy(tt.data)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ShannonEntropy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPrintableRatio(t *testing.T) {
	tests := []struct {
		data []byte
		want float64
	}{
		{nil, 0},
		{[]byte("hello\tworld\r\n"), 1},
		{[]byte{'a', 'b', 0x00, 0x01}, 0.5},
		{[]byte{0x7F, 0x80}, 0},
	}
	for _, tt := range tests {
		if got := PrintableRatio(tt.data); got != tt.want {
			t.Errorf("PrintableRatio(%q) = %v, want %v", tt.data, got, tt.want)
		}
	}
}

func TestLabelNames(t *testing.T) {
	for _, label := range Labels() {
		text, err := label.MarshalText()
		if err != nil {
			t.Fatalf("Failed to marshal %d: %v", label, err)
		}
		var back Label
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("Failed to parse %s: %v", text, err)
		}
		if back != label {
			t.Errorf("Expected %s, got %s", label, back)
		}
	}

	if _, err := ParseLabel("AUDIO"); err == nil {
		t.Error("Expected error for unknown label")
	}
}
