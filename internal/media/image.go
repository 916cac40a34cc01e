// Package media stores images produced by image-capable models.
package media

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	// webp output from providers is decoded and re-encoded as PNG
	_ "golang.org/x/image/webp"
)

// DetectMIME returns the MIME type from magic bytes, ignoring parameters
func DetectMIME(data []byte) string {
	m := mimetype.Detect(data).String()
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return m
}

// IsImage reports whether data looks like an image
func IsImage(data []byte) bool {
	return strings.HasPrefix(DetectMIME(data), "image/")
}

// ToPNG normalizes an encoded image to PNG. PNG input is returned as is.
func ToPNG(data []byte) ([]byte, error) {
	mimeType := DetectMIME(data)
	if mimeType == "image/png" {
		return data, nil
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("not an image: %s", mimeType)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", mimeType, err)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
