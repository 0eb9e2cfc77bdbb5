package api

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/ayusman/bhava/internal/capture"
	"github.com/ayusman/bhava/internal/detector"
	"github.com/ayusman/bhava/internal/fusion"
	"github.com/ayusman/bhava/internal/raster"
	"github.com/ayusman/bhava/internal/temporal"
)

// MaxImageSize is the largest accepted request body for /api/classify.
const MaxImageSize = 10 << 20

// ClassifyHandler classifies uploaded stills with its own detector instance.
// Requests are serialized because the detector keeps temporal state.
type ClassifyHandler struct {
	mu       sync.Mutex
	detector *detector.Detector
}

// NewClassifyHandler creates a ClassifyHandler around a ready detector.
func NewClassifyHandler(d *detector.Detector) *ClassifyHandler {
	return &ClassifyHandler{detector: d}
}

type classifyResponse struct {
	fusion.Result
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ServeHTTP handles POST /api/classify. The body is an encoded image.
// With ?reset=true the smoothing window and history are cleared first, so the
// image is classified on its own.
func (h *ClassifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxImageSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Image too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	frame, err := capture.DecodeImage(data, capture.MaxStillWidth)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reset, _ := strconv.ParseBool(r.URL.Query().Get("reset"))

	h.mu.Lock()
	if reset {
		h.detector.Reset()
	}
	result, err := h.detector.ClassifyFused(r.Context(), frame, nil)
	h.mu.Unlock()

	if err != nil {
		switch {
		case errors.Is(err, raster.ErrInvalidFrame):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, detector.ErrNotReady), errors.Is(err, detector.ErrDisposed):
			writeError(w, http.StatusServiceUnavailable, "Classifier not ready")
		default:
			log.Printf("classify error: %v", err)
			writeError(w, http.StatusInternalServerError, "Failed to classify image")
		}
		return
	}

	writeJSON(w, http.StatusOK, classifyResponse{
		Result: result,
		Width:  frame.Width,
		Height: frame.Height,
	})
}

// AnalyticsSource provides the running history summary.
type AnalyticsSource interface {
	Analytics() temporal.Analytics
	Latest() (fusion.Result, bool)
}

// AnalyticsHandler serves GET /api/analytics.
type AnalyticsHandler struct {
	source AnalyticsSource
}

// NewAnalyticsHandler creates an AnalyticsHandler reading from source.
func NewAnalyticsHandler(source AnalyticsSource) *AnalyticsHandler {
	return &AnalyticsHandler{source: source}
}

type analyticsResponse struct {
	Analytics temporal.Analytics `json:"analytics"`
	Latest    *fusion.Result     `json:"latest,omitempty"`
}

func (h *AnalyticsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := analyticsResponse{Analytics: h.source.Analytics()}
	if latest, ok := h.source.Latest(); ok {
		response.Latest = &latest
	}
	writeJSON(w, http.StatusOK, response)
}
