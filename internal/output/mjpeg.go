package output

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"time"

	"github.com/livelyd/livelyd/internal/logger"
)

// MaxPreviewFPS caps the preview frame rate
const MaxPreviewFPS = 30

// mjpegBoundary separates the parts of the multipart stream
const mjpegBoundary = "frame"

// FrameSource produces the next preview frame
type FrameSource func() (*image.RGBA, error)

// ServeMJPEG streams frames from next as Motion JPEG until the client goes
// away, ctx ends or a frame fails. A browser can show the stream in a plain
// <img> tag. Ending through ctx closes the multipart body.
func ServeMJPEG(ctx context.Context, w http.ResponseWriter, fps int, next FrameSource) error {
	if fps <= 0 {
		fps = 1
	}
	if fps > MaxPreviewFPS {
		fps = MaxPreviewFPS
	}

	// Set headers for MJPEG stream
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("Connection", "close")

	log := logger.WithComponent("mjpeg")
	log.Debug().Int("fps", fps).Msg("Preview client connected")

	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	frames := 0
	defer func() {
		log.Debug().Int("frames", frames).Msg("Preview client disconnected")
	}()

	buf := new(bytes.Buffer)
	for {
		frame, err := next()
		if err != nil {
			return fmt.Errorf("failed to capture preview frame: %w", err)
		}

		buf.Reset()
		if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: DefaultJPEGQuality}); err != nil {
			return fmt.Errorf("failed to encode JPEG: %w", err)
		}
		if err := writePart(w, buf.Bytes()); err != nil {
			// Client went away
			return nil
		}
		frames++

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			_, _ = fmt.Fprintf(w, "--%s--\r\n", mjpegBoundary)
			return nil
		}
	}
}

// writePart writes one JPEG as a multipart section and flushes it
func writePart(w http.ResponseWriter, jpegData []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(jpegData)); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
