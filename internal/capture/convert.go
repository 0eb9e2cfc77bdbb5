package capture

import (
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"
	"golang.org/x/image/draw"

	"github.com/ayusman/bhava/internal/raster"
)

// FrameFromMat converts a BGR, BGRA or grayscale Mat into an RGBA frame.
// The returned frame owns its pixel buffer; the Mat can be closed afterwards.
func FrameFromMat(mat gocv.Mat) (*raster.Frame, error) {
	if mat.Empty() {
		return nil, &raster.InvalidFrameError{Reason: "empty mat"}
	}

	var code gocv.ColorConversionCode
	switch mat.Channels() {
	case 1:
		code = gocv.ColorGrayToRGBA
	case 3:
		code = gocv.ColorBGRToRGBA
	case 4:
		code = gocv.ColorBGRAToRGBA
	default:
		return nil, &raster.InvalidFrameError{
			Width:  mat.Cols(),
			Height: mat.Rows(),
			Reason: fmt.Sprintf("unsupported channel count %d", mat.Channels()),
		}
	}

	rgba := gocv.NewMat()
	defer rgba.Close()
	gocv.CvtColor(mat, &rgba, code)

	pix := rgba.ToBytes()
	f := &raster.Frame{
		Width:     rgba.Cols(),
		Height:    rgba.Rows(),
		Pix:       pix,
		Timestamp: time.Now(),
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// ToMat returns a BGR Mat holding the pixels of f.
// The caller is responsible for closing the returned Mat.
func ToMat(f *raster.Frame) (gocv.Mat, error) {
	if err := f.Validate(); err != nil {
		return gocv.NewMat(), err
	}

	rgba, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC4, f.Pix)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("wrap frame pixels: %w", err)
	}
	defer rgba.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(rgba, &bgr, gocv.ColorRGBAToBGR)
	return bgr, nil
}

// FrameFromImage converts any image into an RGBA frame. Images wider than
// maxWidth are scaled down preserving aspect ratio; maxWidth <= 0 disables scaling.
func FrameFromImage(img image.Image, maxWidth int) (*raster.Frame, error) {
	if img == nil {
		return nil, &raster.InvalidFrameError{Reason: "nil image"}
	}

	src := img.Bounds()
	width, height := src.Dx(), src.Dy()
	if maxWidth > 0 && width > maxWidth {
		height = max(1, height*maxWidth/width)
		width = maxWidth
	}
	if width <= 0 || height <= 0 {
		return nil, &raster.InvalidFrameError{Width: width, Height: height, Reason: "empty image"}
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	if width == src.Dx() && height == src.Dy() {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	}

	return raster.NewFrame(width, height, dst.Pix)
}
