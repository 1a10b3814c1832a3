package adaptive

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"
)

// Magic bytes for already-compressed formats
var compressedMagic = map[string][]byte{
	"gzip":   {0x1f, 0x8b},
	"zstd":   {0x28, 0xb5, 0x2f, 0xfd},
	"lz4":    {0x04, 0x22, 0x4d, 0x18},
	"xz":     {0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00},
	"7z":     {0x37, 0x7a, 0xbc, 0xaf, 0x27, 0x1c},
	"zip":    {0x50, 0x4b, 0x03, 0x04},
	"bzip2":  {0x42, 0x5a, 0x68},
	"snappy": {0xff, 0x06, 0x00, 0x00, 0x73, 0x4e, 0x61, 0x50}, // snappy framed
	"adapt":  []byte(containerMagic),
}

// Image magic numbers and their format names
var imageFormats = []struct {
	format string
	magic  []byte
}{
	{"jpeg", []byte{0xFF, 0xD8, 0xFF}},
	{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	{"gif", []byte("GIF8")},
	{"bmp", []byte("BM")},
	{"tiff", []byte{0x49, 0x49, 0x2A, 0x00}},
	{"tiff", []byte{0x4D, 0x4D, 0x00, 0x2A}},
}

var (
	imageExtensions = regexp.MustCompile(`(?i)\.(jpe?g|png|gif|bmp|webp|tiff?|heic)$`)
	videoExtensions = regexp.MustCompile(`(?i)\.(mp4|m4v|mkv|avi|mov|webm|wmv|flv)$`)
)

// DetectCompressed reports the already-compressed format data starts with.
func DetectCompressed(data []byte) (string, bool) {
	for format, magic := range compressedMagic {
		if bytes.HasPrefix(data, magic) {
			return format, true
		}
	}
	return "", false
}

// detectImage returns the image format named by data's magic bytes.
func detectImage(data []byte) (string, bool) {
	for _, f := range imageFormats {
		if bytes.HasPrefix(data, f.magic) {
			return f.format, true
		}
	}
	if isRIFF(data, "WEBP") {
		return "webp", true
	}
	return "", false
}

// detectVideo returns the container format named by data's magic bytes.
func detectVideo(data []byte) (string, bool) {
	switch {
	case len(data) >= 8 && string(data[4:8]) == "ftyp":
		return "mp4", true
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return "matroska", true
	case isRIFF(data, "AVI "):
		return "avi", true
	}
	return "", false
}

func isRIFF(data []byte, kind string) bool {
	return len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == kind
}

// IsMediaPath reports whether name has an image or video extension.
func IsMediaPath(name string) (image, video bool) {
	return imageExtensions.MatchString(name), videoExtensions.MatchString(name)
}

// ContainerPath returns the container name for a source file
func ContainerPath(name string) string {
	return name + ContainerExtension
}

// RestoredPath returns the output name for a container. Names without the
// container extension get ".out" appended so the input is never replaced.
func RestoredPath(name string) string {
	if stripped, ok := StripContainerExtension(name); ok {
		return stripped
	}
	return name + ".out"
}

// StripContainerExtension removes the container extension from name
func StripContainerExtension(name string) (string, bool) {
	ext := filepath.Ext(name)
	if strings.EqualFold(ext, ContainerExtension) && len(name) > len(ext) {
		return name[:len(name)-len(ext)], true
	}
	return name, false
}

// HasContainerExtension checks if name has the container extension
func HasContainerExtension(name string) bool {
	_, ok := StripContainerExtension(name)
	return ok
}

// compileSkipPatterns joins patterns into one alternation
func compileSkipPatterns(patterns []string) (*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	pattern := "(?:" + patterns[0]
	for i := 1; i < len(patterns); i++ {
		pattern += "|" + patterns[i]
	}
	pattern += ")"
	return regexp.Compile(pattern)
}
