package ai

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"trafficcounter/internal/model"
	"trafficcounter/internal/service/capture/gocvsource"
)

var (
	boxColor  = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	lineColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
)

// Annotate draws the counting line and tracked boxes on a copy of frame and
// returns it JPEG encoded. lineY < 0 skips the line.
func Annotate(frame *model.Frame, objects []model.TrackedObject, lineY int) ([]byte, error) {
	mat, err := gocvsource.MatFromFrame(frame)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	if lineY >= 0 {
		if err := gocv.Line(&mat, image.Pt(0, lineY), image.Pt(mat.Cols(), lineY), lineColor, 2); err != nil {
			return nil, fmt.Errorf("failed to draw line: %v", err)
		}
	}

	for _, obj := range objects {
		if err := gocv.Rectangle(&mat, obj.Box.Rect(), boxColor, 2); err != nil {
			return nil, fmt.Errorf("failed to draw rectangle: %v", err)
		}

		label := fmt.Sprintf("%s #%s (%.2f)", obj.Class, obj.TrackID, obj.Confidence)
		pt := image.Pt(obj.Box.X, obj.Box.Y-5)
		if err := gocv.PutText(&mat, label, pt, gocv.FontHersheySimplex, 0.5, boxColor, 1); err != nil {
			return nil, fmt.Errorf("failed to draw text: %v", err)
		}
	}

	buf, err := gocv.IMEncode(".jpg", mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}
