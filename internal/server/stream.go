package server

import (
	"fmt"
	"image"
	"image/color"
	"net/http"
	"time"

	"github.com/ayusman/bhava/internal/capture"
	"github.com/ayusman/bhava/internal/fusion"
	"github.com/ayusman/bhava/internal/raster"
	"gocv.io/x/gocv"
)

// FrameSource exposes the most recent classified frame and its result.
type FrameSource interface {
	LatestFrame() *raster.Frame
	Latest() (fusion.Result, bool)
}

var (
	overlayBox  = color.RGBA{R: 0, G: 200, B: 255, A: 255}
	overlayText = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// StreamHandler serves MJPEG frames with the current label drawn on top.
type StreamHandler struct {
	source FrameSource
}

// NewStreamHandler creates a new StreamHandler reading from source.
func NewStreamHandler(source FrameSource) *StreamHandler {
	return &StreamHandler{source: source}
}

// ServeHTTP streams MJPEG frames to connected clients.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var last *raster.Frame
	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		frame := h.source.LatestFrame()
		if frame == nil || frame == last {
			time.Sleep(66 * time.Millisecond)
			continue
		}
		last = frame

		result, _ := h.source.Latest()
		buf, err := encodeOverlay(frame, result)
		if err != nil {
			continue
		}

		// Write MJPEG frame
		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(buf))
		if _, err := w.Write(buf); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		time.Sleep(66 * time.Millisecond) // ~15 FPS
	}
}

// encodeOverlay draws the face region and fused label onto frame and
// returns it JPEG encoded.
func encodeOverlay(frame *raster.Frame, result fusion.Result) ([]byte, error) {
	mat, err := capture.ToMat(frame)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	roi := raster.DefaultRegion(frame.Width, frame.Height)
	gocv.Rectangle(&mat, image.Rect(roi.X, roi.Y, roi.X+roi.Width, roi.Y+roi.Height), overlayBox, 2)

	label := fmt.Sprintf("%s %.0f%% (%s)", result.Primary.Label, result.Confidence*100, result.Reliability)
	gocv.PutText(&mat, label, image.Pt(10, 24), gocv.FontHersheySimplex, 0.6, overlayText, 2)

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	// GetBytes aliases native memory released by Close
	return append([]byte(nil), buf.GetBytes()...), nil
}
