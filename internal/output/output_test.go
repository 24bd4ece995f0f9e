package output

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/livelyd/livelyd/internal/ipc"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func testImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 60), G: uint8(y * 80), B: 0x40, A: 0xff})
		}
	}
	return img
}

func TestEncode_Formats(t *testing.T) {
	for _, format := range []ipc.ScreenshotFormat{ipc.FormatJPEG, ipc.FormatPNG, ipc.FormatBMP} {
		t.Run(format.String(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Encode(&buf, testImage(), format))

			img, name, err := image.Decode(&buf)
			require.NoError(t, err)
			require.Equal(t, format.String(), name)
			require.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())
		})
	}
}

func TestEncode_WebPUnsupported(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, testImage(), ipc.FormatWEBP)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	require.Zero(t, buf.Len())
}

func TestConvert_PNGToBMP(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "shot.png")
	dst := filepath.Join(dir, "out", "shot.bmp")

	require.NoError(t, WriteFile(src, testImage(), ipc.FormatPNG))
	require.NoError(t, Convert(src, dst, ipc.FormatBMP))

	f, err := os.Open(dst)
	require.NoError(t, err)
	defer f.Close()

	img, err := bmp.Decode(f)
	require.NoError(t, err)
	r, g, b, _ := img.At(2, 1).RGBA()
	require.Equal(t, uint32(120), r>>8)
	require.Equal(t, uint32(80), g>>8)
	require.Equal(t, uint32(0x40), b>>8)
}

func TestWriteFile_RemovesPartialOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shot.webp")
	require.ErrorIs(t, WriteFile(path, testImage(), ipc.FormatWEBP), ErrUnsupportedFormat)
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}
