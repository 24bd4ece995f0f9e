package capture

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConvertImageData(t *testing.T) {
	// Two pixels, BGRX
	data := []byte{
		0x10, 0x20, 0x30, 0x00,
		0xff, 0x00, 0x80, 0x00,
	}

	img := convertImageData(data, 2, 1, 24)
	require.Equal(t, color.RGBA{R: 0x30, G: 0x20, B: 0x10, A: 0xff}, img.RGBAAt(0, 0))
	require.Equal(t, color.RGBA{R: 0x80, G: 0x00, B: 0xff, A: 0xff}, img.RGBAAt(1, 0))
}

func TestConvertImageData_ShortBuffer(t *testing.T) {
	img := convertImageData([]byte{1, 2, 3, 4}, 2, 2, 32)
	require.Equal(t, color.RGBA{R: 3, G: 2, B: 1, A: 0xff}, img.RGBAAt(0, 0))
	require.Equal(t, color.RGBA{}, img.RGBAAt(1, 1))
}

func TestConvertImageData_UnsupportedDepth(t *testing.T) {
	img := convertImageData([]byte{1, 2, 3, 4}, 1, 1, 16)
	require.Equal(t, color.RGBA{}, img.RGBAAt(0, 0))
}
