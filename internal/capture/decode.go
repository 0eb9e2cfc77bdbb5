package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/ayusman/bhava/internal/raster"
)

// MaxStillWidth is the width stills are downscaled to before classification.
const MaxStillWidth = 640

// DecodeImage decodes an encoded still into a frame no wider than maxWidth.
// Formats the image package does not know are handed to OpenCV.
func DecodeImage(data []byte, maxWidth int) (*raster.Frame, error) {
	if len(data) == 0 {
		return nil, &raster.InvalidFrameError{Reason: "empty image"}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err == nil {
		return FrameFromImage(img, maxWidth)
	}
	if !errors.Is(err, image.ErrFormat) {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, &raster.InvalidFrameError{Reason: "unrecognized image format"}
	}

	if maxWidth > 0 && mat.Cols() > maxWidth {
		h := max(1, mat.Rows()*maxWidth/mat.Cols())
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(mat, &resized, image.Pt(maxWidth, h), 0, 0, gocv.InterpolationArea)
		return FrameFromMat(resized)
	}
	return FrameFromMat(mat)
}

// ReadImageFile decodes the still at path.
func ReadImageFile(path string, maxWidth int) (*raster.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := DecodeImage(data, maxWidth)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}
