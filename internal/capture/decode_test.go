package capture

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/ayusman/bhava/internal/raster"
)

func encodePNG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func TestDecodeImage_PNG(t *testing.T) {
	data := encodePNG(t, 80, 40, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	f, err := DecodeImage(data, 0)
	if err != nil {
		t.Fatalf("DecodeImage() error = %v", err)
	}
	if f.Width != 80 || f.Height != 40 {
		t.Errorf("dimensions = %dx%d, want 80x40", f.Width, f.Height)
	}
	if f.Pix[0] != 200 || f.Pix[1] != 100 || f.Pix[2] != 50 {
		t.Errorf("first pixel = %v, want 200,100,50", f.Pix[:4])
	}

	small, err := DecodeImage(data, 40)
	if err != nil {
		t.Fatalf("DecodeImage() error = %v", err)
	}
	if small.Width != 40 || small.Height != 20 {
		t.Errorf("dimensions = %dx%d, want 40x20", small.Width, small.Height)
	}
}

func TestDecodeImage_Empty(t *testing.T) {
	if _, err := DecodeImage(nil, 0); !errors.Is(err, raster.ErrInvalidFrame) {
		t.Errorf("expected raster.ErrInvalidFrame, got %v", err)
	}
}

func TestDecodeImage_Garbage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires OpenCV")
	}

	if _, err := DecodeImage([]byte("definitely not an image"), 0); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestReadImageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "still.png")
	if err := os.WriteFile(path, encodePNG(t, 10, 10, color.RGBA{A: 255}), 0644); err != nil {
		t.Fatalf("failed to write image: %v", err)
	}

	f, err := ReadImageFile(path, MaxStillWidth)
	if err != nil {
		t.Fatalf("ReadImageFile() error = %v", err)
	}
	if f.Width != 10 {
		t.Errorf("width = %d, want 10", f.Width)
	}

	if _, err := ReadImageFile(filepath.Join(t.TempDir(), "missing.png"), 0); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}
