package adaptive

import (
	"bytes"
	"math"
)

const (
	entropySampleSize   = 16 * kiB
	printableSampleSize = 4 * kiB
	minTextRun          = 4

	textPrintableRatio   = 0.9
	textEntropyCeiling   = 5.5
	compressedEntropyMin = 7.5
)

// Magic numbers that label a window IMAGE. PDF counts as an image.
var imageMagic = [][]byte{
	{0xFF, 0xD8, 0xFF},                               // JPEG
	{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, // PNG
	[]byte("%PDF"),                                   // PDF
	[]byte("BM"),                                     // BMP
}

// Classify labels a window from its bytes alone. The first matching rule
// wins: image magic, then text, then high entropy, then mixed binary.
func Classify(window []byte) Label {
	for _, magic := range imageMagic {
		if bytes.HasPrefix(window, magic) {
			return LabelImage
		}
	}

	entropy := ShannonEntropy(head(window, entropySampleSize))

	sample := head(window, printableSampleSize)
	if PrintableRatio(sample) > textPrintableRatio && entropy < textEntropyCeiling && hasWordRun(sample, minTextRun) {
		return LabelText
	}

	if entropy > compressedEntropyMin {
		return LabelBinaryCompressed
	}
	return LabelMixedBinary
}

// ShannonEntropy returns the byte entropy of data in bits per byte, in [0, 8].
func ShannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	var counts [256]int
	for _, b := range data {
		counts[b]++
	}

	total := float64(len(data))
	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// PrintableRatio returns the share of bytes that are tab, newline, carriage
// return or printable ASCII.
func PrintableRatio(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	printable := 0
	for _, b := range data {
		if isPrintable(b) {
			printable++
		}
	}
	return float64(printable) / float64(len(data))
}

func isPrintable(b byte) bool {
	return b == '\t' || b == '\n' || b == '\r' || (b >= 0x20 && b <= 0x7E)
}

func isWordByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '_' || b == '-'
}

// hasWordRun reports whether data holds n consecutive [A-Za-z0-9_-] bytes.
func hasWordRun(data []byte, n int) bool {
	run := 0
	for _, b := range data {
		if !isWordByte(b) {
			run = 0
			continue
		}
		run++
		if run >= n {
			return true
		}
	}
	return false
}

func head(data []byte, n int) []byte {
	if len(data) > n {
		return data[:n]
	}
	return data
}
