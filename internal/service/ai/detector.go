package ai

import (
	"fmt"
	"image"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"trafficcounter/internal/config"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/model"
	"trafficcounter/internal/service/capture/gocvsource"
)

// cocoVehicles maps SSD MobileNet COCO class ids to counted classes.
var cocoVehicles = map[int]model.VehicleClass{
	3: model.Car,
	4: model.Motorcycle,
	6: model.Bus,
	8: model.Truck,
}

// motionState holds the previous grayscale frame of one source.
type motionState struct {
	previous    gocv.Mat
	hasPrevious bool
	mutex       sync.Mutex
}

// DetectorService runs an OpenCV DNN vehicle detector.
type DetectorService struct {
	net        gocv.Net
	netMu      sync.Mutex
	ready      bool
	modelPath  string
	configPath string
	threshold  float64

	motionThreshold int
	states          map[string]*motionState
	statesMutex     sync.RWMutex

	logger *logger.Logger
}

// NewDetectorService loads the network named in cfg. A missing model is
// reported through the returned error so the caller can decide to run
// without detection.
func NewDetectorService(cfg config.DetectionConfig, log *logger.Logger) (*DetectorService, error) {
	s := &DetectorService{
		modelPath:       cfg.ModelPath,
		configPath:      cfg.ConfigPath,
		threshold:       cfg.ConfidenceThreshold,
		motionThreshold: cfg.MotionThreshold,
		states:          make(map[string]*motionState),
		logger:          log,
	}

	if err := s.initializeNet(); err != nil {
		return nil, err
	}
	return s, nil
}

// initializeNet loads the DNN network and sets backend/target preferences.
func (s *DetectorService) initializeNet() error {
	if _, err := os.Stat(s.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", s.modelPath)
	}
	if _, err := os.Stat(s.configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", s.configPath)
	}

	net := gocv.ReadNet(s.modelPath, s.configPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network")
	}
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	s.net = net
	s.ready = true
	s.logger.Info("🤖 Detection network initialized (%s)", s.modelPath)
	return nil
}

// Detect returns vehicle detections above the confidence floor.
func (s *DetectorService) Detect(frame *model.Frame) ([]model.Detection, error) {
	if !s.ready {
		return nil, fmt.Errorf("detection network not initialized")
	}

	mat, err := gocvsource.MatFromFrame(frame)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	if s.motionThreshold > 0 {
		moving, err := s.detectMotion(frame.SourceID, mat)
		if err != nil {
			s.logger.Debug("Motion check failed for %s: %v", frame.SourceID, err)
		} else if !moving {
			return nil, nil
		}
	}

	// SSD COCO input: 300x300, mean 127.5, scale 1/127.5, BGR->RGB
	blob := gocv.BlobFromImage(mat, 1.0/127.5, image.Pt(300, 300), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	s.netMu.Lock()
	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	s.netMu.Unlock()
	defer output.Close()

	// rows of [batch_id, class_id, confidence, x1, y1, x2, y2]
	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	cols, height := float32(mat.Cols()), float32(mat.Rows())
	var results []model.Detection
	for i := 0; i < rows.Rows(); i++ {
		confidence := float64(rows.GetFloatAt(i, 2))
		if confidence < s.threshold {
			continue
		}
		class, ok := cocoVehicles[int(rows.GetFloatAt(i, 1))]
		if !ok {
			continue
		}

		x1 := int(rows.GetFloatAt(i, 3) * cols)
		y1 := int(rows.GetFloatAt(i, 4) * height)
		x2 := int(rows.GetFloatAt(i, 5) * cols)
		y2 := int(rows.GetFloatAt(i, 6) * height)
		if x2 <= x1 || y2 <= y1 {
			continue
		}

		results = append(results, model.Detection{
			Class:      class,
			Confidence: confidence,
			Box:        model.BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1},
		})
	}

	return results, nil
}

// detectMotion compares the frame with the previous one of the same source.
func (s *DetectorService) detectMotion(sourceID string, mat gocv.Mat) (bool, error) {
	state := s.getMotionState(sourceID)
	state.mutex.Lock()
	defer state.mutex.Unlock()

	gray := gocv.NewMat()
	if err := gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray); err != nil {
		gray.Close()
		return false, fmt.Errorf("failed to convert image to grayscale: %v", err)
	}

	if !state.hasPrevious {
		state.previous = gray
		state.hasPrevious = true
		return true, nil
	}

	diff := gocv.NewMat()
	defer diff.Close()
	if err := gocv.AbsDiff(state.previous, gray, &diff); err != nil {
		gray.Close()
		return false, fmt.Errorf("failed to compute absolute difference: %v", err)
	}

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, 30, 255, gocv.ThresholdBinary)

	changed := gocv.CountNonZero(thresh)

	state.previous.Close()
	state.previous = gray

	return changed > s.motionThreshold, nil
}

func (s *DetectorService) getMotionState(sourceID string) *motionState {
	s.statesMutex.RLock()
	state, exists := s.states[sourceID]
	s.statesMutex.RUnlock()
	if exists {
		return state
	}

	s.statesMutex.Lock()
	defer s.statesMutex.Unlock()
	if state, exists := s.states[sourceID]; exists {
		return state
	}
	state = &motionState{}
	s.states[sourceID] = state
	return state
}

// Forget releases the motion state of a source.
func (s *DetectorService) Forget(sourceID string) {
	s.statesMutex.Lock()
	state, ok := s.states[sourceID]
	delete(s.states, sourceID)
	s.statesMutex.Unlock()

	if ok {
		state.mutex.Lock()
		if state.hasPrevious {
			state.previous.Close()
		}
		state.mutex.Unlock()
	}
}

// Close releases the network.
func (s *DetectorService) Close() error {
	s.netMu.Lock()
	defer s.netMu.Unlock()
	if s.ready {
		s.ready = false
		return s.net.Close()
	}
	return nil
}
