package adaptive

import (
	"bytes"
	"image"
	_ "image/gif"  // register decoder for DecodeConfig
	_ "image/jpeg" // register decoder for DecodeConfig
	_ "image/png"  // register decoder for DecodeConfig
	"io"
	"math"

	"github.com/pkg/errors"
)

// FeatureSampleSize is how much of a file Analyze reads.
const FeatureSampleSize = 64 * kiB

// Visual describes media detected in a file.
type Visual struct {
	IsImage bool   `json:"is_image" yaml:"is_image"`
	IsVideo bool   `json:"is_video" yaml:"is_video"`
	Format  string `json:"format,omitempty" yaml:"format,omitempty"`
	Width   int    `json:"width,omitempty" yaml:"width,omitempty"`
	Height  int    `json:"height,omitempty" yaml:"height,omitempty"`
}

// IsMedia reports whether the file is an image or video.
func (v Visual) IsMedia() bool {
	return v.IsImage || v.IsVideo
}

// FeatureVector is the statistical summary of one file.
type FeatureVector struct {
	Entropy      float64 `json:"entropy" yaml:"entropy"`
	SizeBytes    int64   `json:"size_bytes" yaml:"size_bytes"`
	IsText       bool    `json:"is_text" yaml:"is_text"`
	Repetition   float64 `json:"repetition" yaml:"repetition"`
	Compressible bool    `json:"compressible" yaml:"compressible"`
	Magic        []byte  `json:"magic,omitempty" yaml:"magic,omitempty"`
	Visual       Visual  `json:"visual" yaml:"visual"`

	// Already-compressed format found in the magic bytes, if any
	CompressedFormat string `json:"compressed_format,omitempty" yaml:"compressed_format,omitempty"`
}

// SizeMB returns the size in mebibytes.
func (fv *FeatureVector) SizeMB() float64 {
	return float64(fv.SizeBytes) / miB
}

// Analyze samples the start of path and summarises it. A missing path or a
// directory is a *FileAccessError.
func Analyze(fsys FileSystem, path string) (*FeatureVector, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return nil, &FileAccessError{Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, &FileAccessError{Path: path, Err: errors.New("is a directory")}
	}

	f, err := openRead(fsys, path)
	if err != nil {
		return nil, &FileAccessError{Path: path, Err: err}
	}
	defer f.Close()

	sample := make([]byte, min(info.Size(), FeatureSampleSize))
	n, err := io.ReadFull(f, sample)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, &FileAccessError{Path: path, Err: err}
	}

	fv := AnalyzeSample(sample[:n], info.Size())
	isImage, isVideo := IsMediaPath(path)
	fv.Visual.IsImage = fv.Visual.IsImage || isImage
	fv.Visual.IsVideo = fv.Visual.IsVideo || (isVideo && !fv.Visual.IsImage)
	return fv, nil
}

// AnalyzeSample builds a feature vector from a sample of a file of size
// bytes.
func AnalyzeSample(sample []byte, size int64) *FeatureVector {
	fv := &FeatureVector{SizeBytes: size}
	if len(sample) == 0 {
		return fv
	}

	entropy := ShannonEntropy(sample)
	repetition := Repetition(sample)

	nulls := bytes.Count(sample, []byte{0})
	fv.Entropy = round(entropy, 2)
	fv.Repetition = round(repetition, 4)
	fv.IsText = PrintableRatio(sample) > 0.8 && float64(nulls) < float64(len(sample))*0.01
	fv.Compressible = entropy < 7.5 || repetition > 0.1
	fv.Magic = append([]byte(nil), head(sample, 8)...)
	fv.CompressedFormat, _ = DetectCompressed(sample)
	fv.Visual = detectVisual(sample)
	return fv
}

// Repetition returns the share of repeated 4-byte words, read at 4-byte
// steps: 1 - unique/total. It is 0 for samples under 4 bytes.
func Repetition(sample []byte) float64 {
	total := 0
	seen := make(map[[4]byte]struct{}, len(sample)/4)
	for i := 0; i+4 <= len(sample); i += 4 {
		seen[[4]byte(sample[i:i+4])] = struct{}{}
		total++
	}
	if total == 0 {
		return 0
	}
	return 1 - float64(len(seen))/float64(total)
}

func detectVisual(sample []byte) Visual {
	var v Visual
	if format, ok := detectImage(sample); ok {
		v.IsImage, v.Format = true, format
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(sample)); err == nil {
			v.Width, v.Height = cfg.Width, cfg.Height
		}
		return v
	}
	if format, ok := detectVideo(sample); ok {
		v.IsVideo, v.Format = true, format
	}
	return v
}

func round(x float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(x*scale) / scale
}
