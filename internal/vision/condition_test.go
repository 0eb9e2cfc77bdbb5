package vision_test

import (
	"bytes"
	"image/color"
	"testing"

	"github.com/ayusman/bhava/internal/raster"
	"github.com/ayusman/bhava/internal/vision"
	"github.com/ayusman/bhava/testdata"
)

func TestReduceNoise_BorderUntouched(t *testing.T) {
	frame := testdata.NoisyFrame(16, 12, 42)
	original := frame.Clone()

	vision.ReduceNoise(frame)

	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			if x != 0 && y != 0 && x != frame.Width-1 && y != frame.Height-1 {
				continue
			}
			i := frame.Offset(x, y)
			if !bytes.Equal(frame.Pix[i:i+4], original.Pix[i:i+4]) {
				t.Fatalf("border pixel (%d,%d) changed: %v -> %v", x, y, original.Pix[i:i+4], frame.Pix[i:i+4])
			}
		}
	}
}

func TestReduceNoise_Kernel(t *testing.T) {
	frame := testdata.SolidFrame(3, 3, color.RGBA{A: 255})
	center := frame.Offset(1, 1)
	frame.Pix[center] = 160

	vision.ReduceNoise(frame)

	// Only the center weight (4/16) contributes.
	if got := frame.Pix[center]; got != 40 {
		t.Errorf("center red = %d, want 40", got)
	}
	if got := frame.Pix[center+3]; got != 255 {
		t.Errorf("center alpha = %d, want 255 (untouched)", got)
	}
}

func TestReduceNoise_UniformFrameUnchanged(t *testing.T) {
	frame := testdata.SolidFrame(8, 8, color.RGBA{R: 90, G: 120, B: 30, A: 255})
	original := frame.Clone()

	vision.ReduceNoise(frame)

	if !bytes.Equal(frame.Pix, original.Pix) {
		t.Error("blurring a uniform frame changed it")
	}
}

func TestEqualizeHistogram(t *testing.T) {
	t.Run("uniform gray stretches to white", func(t *testing.T) {
		frame := testdata.SolidFrame(4, 4, color.RGBA{R: 100, G: 100, B: 100, A: 77})

		vision.EqualizeHistogram(frame)

		for i := 0; i < len(frame.Pix); i += raster.Channels {
			if frame.Pix[i] != 255 || frame.Pix[i+1] != 255 || frame.Pix[i+2] != 255 {
				t.Fatalf("pixel %d = %v, want white", i/4, frame.Pix[i:i+3])
			}
			if frame.Pix[i+3] != 77 {
				t.Fatalf("alpha changed to %d", frame.Pix[i+3])
			}
		}
	})

	t.Run("black pixels stay black", func(t *testing.T) {
		frame := testdata.FaceFrame(10, 10, color.RGBA{A: 255}, color.RGBA{R: 60, G: 60, B: 60, A: 255})

		vision.EqualizeHistogram(frame)

		if frame.Pix[0] != 0 || frame.Pix[1] != 0 || frame.Pix[2] != 0 {
			t.Errorf("black corner became %v", frame.Pix[0:3])
		}
		r := raster.DefaultRegion(10, 10)
		i := frame.Offset(r.X, r.Y)
		if frame.Pix[i] != 255 {
			t.Errorf("brightest bin red = %d, want 255", frame.Pix[i])
		}
	})

	t.Run("gradient keeps ordering", func(t *testing.T) {
		frame := testdata.GradientFrame(32, 2)

		vision.EqualizeHistogram(frame)

		prev := -1
		for x := 0; x < frame.Width; x++ {
			v := int(frame.Pix[frame.Offset(x, 0)])
			if v < prev {
				t.Fatalf("column %d value %d < previous %d", x, v, prev)
			}
			prev = v
		}
	})
}

func TestConditioner_CopyOnWrite(t *testing.T) {
	frame := testdata.NoisyFrame(12, 12, 7)
	original := frame.Clone()

	c := vision.NewConditioner(vision.DefaultConditionerConfig())
	out, err := c.Condition(frame)
	if err != nil {
		t.Fatalf("Condition() error = %v", err)
	}

	if !bytes.Equal(frame.Pix, original.Pix) {
		t.Error("Condition modified its input")
	}
	if bytes.Equal(out.Pix, original.Pix) {
		t.Error("Condition returned an unmodified copy of a noisy frame")
	}
}

func TestConditioner_Deterministic(t *testing.T) {
	c := vision.NewConditioner(vision.DefaultConditionerConfig())

	a, err := c.Condition(testdata.NoisyFrame(20, 15, 3))
	if err != nil {
		t.Fatalf("Condition() error = %v", err)
	}
	b, err := c.Condition(testdata.NoisyFrame(20, 15, 3))
	if err != nil {
		t.Fatalf("Condition() error = %v", err)
	}
	if !bytes.Equal(a.Pix, b.Pix) {
		t.Error("Condition is not deterministic")
	}
}

func TestConditioner_InvalidFrame(t *testing.T) {
	c := vision.NewConditioner(vision.DefaultConditionerConfig())

	_, err := c.Condition(&raster.Frame{Width: 2, Height: 2, Pix: make([]byte, 12)})
	if err == nil {
		t.Fatal("Condition() should reject a 3-channel buffer")
	}
}

func TestConditioner_Disabled(t *testing.T) {
	frame := testdata.NoisyFrame(6, 6, 9)
	c := vision.NewConditioner(vision.ConditionerConfig{})

	out, err := c.Condition(frame)
	if err != nil {
		t.Fatalf("Condition() error = %v", err)
	}
	if !bytes.Equal(out.Pix, frame.Pix) {
		t.Error("disabled conditioner changed pixels")
	}
}
