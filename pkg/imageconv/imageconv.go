// Package imageconv converts screenshot attachments to grayscale PNG before upload
package imageconv

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"strings"

	// Registered decoders
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// OutputContentType is the content type of every converted image
const OutputContentType = "image/png"

// IsImage reports whether contentType names an image media type
func IsImage(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}

// Convert decodes data in any registered format and re-encodes it as a grayscale PNG
func Convert(data []byte) ([]byte, string, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := src.Bounds()
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, src, bounds.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, "", fmt.Errorf("failed to encode %s image as png: %w", format, err)
	}
	return buf.Bytes(), OutputContentType, nil
}
