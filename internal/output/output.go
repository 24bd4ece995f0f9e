// Package output writes screenshot images in the formats players can be asked
// for.
package output

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/livelyd/livelyd/internal/ipc"
	"golang.org/x/image/bmp"
)

// ErrUnsupportedFormat is returned for formats that can't be encoded here
var ErrUnsupportedFormat = errors.New("unsupported image format")

// DefaultJPEGQuality is used for jpeg screenshots
const DefaultJPEGQuality = 90

// Encode writes img to w in the given format
func Encode(w io.Writer, img image.Image, format ipc.ScreenshotFormat) error {
	var err error
	switch format {
	case ipc.FormatJPEG:
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: DefaultJPEGQuality})
	case ipc.FormatPNG:
		err = png.Encode(w, img)
	case ipc.FormatBMP:
		err = bmp.Encode(w, img)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return nil
}

// WriteFile encodes img into path, replacing any existing file
func WriteFile(path string, img image.Image, format ipc.ScreenshotFormat) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create screenshot directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create screenshot file: %w", err)
	}
	if err := Encode(f, img, format); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// Convert re-encodes the image at src into dst. The source format is
// detected from its contents.
func Convert(src, dst string, format ipc.ScreenshotFormat) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", src, err)
	}
	return WriteFile(dst, img, format)
}
