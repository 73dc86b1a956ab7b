package gocvsource

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"trafficcounter/internal/model"
)

// FrameFromMat copies a BGR (or grayscale) Mat into a Frame.
func FrameFromMat(mat gocv.Mat) (*model.Frame, error) {
	src := mat
	if mat.Channels() == 1 {
		bgr := gocv.NewMat()
		defer bgr.Close()
		if err := gocv.CvtColor(mat, &bgr, gocv.ColorGrayToBGR); err != nil {
			return nil, fmt.Errorf("failed to convert gray frame: %w", err)
		}
		src = bgr
	}
	if src.Channels() != 3 {
		return nil, fmt.Errorf("unsupported frame with %d channels", src.Channels())
	}

	return &model.Frame{
		Width:  src.Cols(),
		Height: src.Rows(),
		Data:   src.ToBytes(),
	}, nil
}

// MatFromFrame wraps a Frame's pixels in a new Mat. The caller closes it.
func MatFromFrame(f *model.Frame) (gocv.Mat, error) {
	if f.Empty() {
		return gocv.NewMat(), fmt.Errorf("empty frame")
	}
	mat, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to build mat: %w", err)
	}
	return mat, nil
}

// Resizer scales frames with bilinear interpolation.
type Resizer struct{}

func (Resizer) Resize(f *model.Frame, width, height int) (*model.Frame, error) {
	src, err := MatFromFrame(f)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	if dst.Empty() {
		return nil, fmt.Errorf("resize to %dx%d produced an empty frame", width, height)
	}
	return FrameFromMat(dst)
}

// EncodeJPEG encodes a frame for the presentation surface.
func EncodeJPEG(f *model.Frame) ([]byte, error) {
	mat, err := MatFromFrame(f)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	buf, err := gocv.IMEncode(".jpg", mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
