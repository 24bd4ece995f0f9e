// Package capture grabs player windows from the host side, for players that
// cannot write screenshots themselves.
package capture

import (
	"image"
)

// Capturer captures the contents of a window
type Capturer interface {
	// CaptureWindow returns the current contents of the window
	CaptureWindow(win uint32) (*image.RGBA, error)
}

// convertImageData converts ZPixmap data from a 24 or 32 bit visual (BGRX
// byte order) to RGBA
func convertImageData(data []byte, width, height, depth int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if depth != 24 && depth != 32 {
		return img
	}

	for i := 0; i+3 < len(data) && i < len(img.Pix); i += 4 {
		img.Pix[i] = data[i+2]
		img.Pix[i+1] = data[i+1]
		img.Pix[i+2] = data[i]
		img.Pix[i+3] = 0xff
	}
	return img
}
