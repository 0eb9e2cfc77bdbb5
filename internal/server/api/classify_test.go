package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ayusman/bhava/internal/detector"
	"github.com/ayusman/bhava/internal/emotion"
	"github.com/ayusman/bhava/internal/fusion"
	"github.com/ayusman/bhava/internal/temporal"
	"github.com/ayusman/bhava/testdata"
)

func init() {
	detector.SetLogger(nil)
}

func facePNG(t *testing.T) []byte {
	t.Helper()
	f := testdata.FaceFrame(64, 48, color.RGBA{R: 40, G: 40, B: 60, A: 255}, color.RGBA{R: 230, G: 190, B: 170, A: 255})
	img := &image.RGBA{Pix: f.Pix, Stride: f.Width * 4, Rect: image.Rect(0, 0, f.Width, f.Height)}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func newReadyDetector(t *testing.T, estimator detector.Estimator) *detector.Detector {
	t.Helper()
	d, err := detector.New(detector.DefaultConfig(), estimator)
	if err != nil {
		t.Fatalf("detector.New() error = %v", err)
	}
	if err := d.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return d
}

func postImage(h http.Handler, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestClassifyHandler(t *testing.T) {
	estimator := detector.NewMockEstimator(detector.Distribution("happy", 0.9))
	d := newReadyDetector(t, estimator)
	handler := NewClassifyHandler(d)

	rec := postImage(handler, "/api/classify", facePNG(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var response struct {
		Primary struct {
			Label      emotion.Label `json:"label"`
			Confidence float64       `json:"confidence"`
		} `json:"primary"`
		Secondary   json.RawMessage    `json:"secondary"`
		Confidence  float64            `json:"confidence"`
		Reliability fusion.Reliability `json:"reliability"`
		Sources     string             `json:"sources"`
		Width       int                `json:"width"`
		Height      int                `json:"height"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Width != 64 || response.Height != 48 {
		t.Errorf("dimensions = %dx%d, want 64x48", response.Width, response.Height)
	}
	if response.Confidence < 0 || response.Confidence > 1 {
		t.Errorf("confidence %f out of range", response.Confidence)
	}
	if len(response.Secondary) == 0 {
		t.Error("expected estimator prediction in response")
	}
	if !strings.Contains(response.Sources, "estimator") {
		t.Errorf("expected estimator source, got %q", response.Sources)
	}
	if estimator.Calls() != 1 {
		t.Errorf("expected 1 estimator call, got %d", estimator.Calls())
	}
	if len(d.History()) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(d.History()))
	}
}

func TestClassifyHandler_Reset(t *testing.T) {
	d := newReadyDetector(t, nil)
	handler := NewClassifyHandler(d)
	img := facePNG(t)

	for i := 0; i < 3; i++ {
		if rec := postImage(handler, "/api/classify", img); rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
	}
	if len(d.History()) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(d.History()))
	}

	if rec := postImage(handler, "/api/classify?reset=true", img); rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if len(d.History()) != 1 {
		t.Errorf("expected history to restart at 1 entry, got %d", len(d.History()))
	}
}

func TestClassifyHandler_Errors(t *testing.T) {
	t.Run("method not allowed", func(t *testing.T) {
		handler := NewClassifyHandler(newReadyDetector(t, nil))
		req := httptest.NewRequest(http.MethodGet, "/api/classify", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("empty body", func(t *testing.T) {
		handler := NewClassifyHandler(newReadyDetector(t, nil))
		if rec := postImage(handler, "/api/classify", nil); rec.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("too large", func(t *testing.T) {
		handler := NewClassifyHandler(newReadyDetector(t, nil))
		rec := postImage(handler, "/api/classify", make([]byte, MaxImageSize+1))
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected status %d, got %d", http.StatusRequestEntityTooLarge, rec.Code)
		}
	})

	t.Run("detector not ready", func(t *testing.T) {
		d, err := detector.New(detector.DefaultConfig(), nil)
		if err != nil {
			t.Fatalf("detector.New() error = %v", err)
		}
		handler := NewClassifyHandler(d)
		if rec := postImage(handler, "/api/classify", facePNG(t)); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
		}
	})
}

type fakeAnalytics struct {
	analytics temporal.Analytics
	latest    *fusion.Result
}

func (f fakeAnalytics) Analytics() temporal.Analytics { return f.analytics }

func (f fakeAnalytics) Latest() (fusion.Result, bool) {
	if f.latest == nil {
		return fusion.Result{}, false
	}
	return *f.latest, true
}

func TestAnalyticsHandler(t *testing.T) {
	t.Run("without results", func(t *testing.T) {
		handler := NewAnalyticsHandler(fakeAnalytics{analytics: temporal.Analytics{DominantLabel: emotion.Neutral}})
		req := httptest.NewRequest(http.MethodGet, "/api/analytics", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		var response map[string]json.RawMessage
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if _, ok := response["latest"]; ok {
			t.Error("latest should be omitted before any result")
		}
	})

	t.Run("with latest result", func(t *testing.T) {
		latest := &fusion.Result{
			Primary:     emotion.Prediction{Label: emotion.Happy, Confidence: 0.8, Scores: emotion.Uniform()},
			Confidence:  0.8,
			Reliability: fusion.ReliabilityHigh,
			Scores:      emotion.Uniform(),
		}
		handler := NewAnalyticsHandler(fakeAnalytics{
			analytics: temporal.Analytics{DominantLabel: emotion.Happy, Samples: 4, AverageConfidence: 0.7},
			latest:    latest,
		})
		req := httptest.NewRequest(http.MethodGet, "/api/analytics", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		var response struct {
			Analytics temporal.Analytics `json:"analytics"`
			Latest    *struct {
				Reliability string `json:"reliability"`
			} `json:"latest"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.Analytics.DominantLabel != emotion.Happy || response.Analytics.Samples != 4 {
			t.Errorf("unexpected analytics %+v", response.Analytics)
		}
		if response.Latest == nil || response.Latest.Reliability != "high" {
			t.Errorf("unexpected latest %+v", response.Latest)
		}
	})

	t.Run("method not allowed", func(t *testing.T) {
		handler := NewAnalyticsHandler(fakeAnalytics{})
		req := httptest.NewRequest(http.MethodPost, "/api/analytics", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})
}
