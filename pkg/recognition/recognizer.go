// Package recognition provides face detection and descriptor extraction.
// It uses dlib/go-face for face detection, landmark extraction, and descriptor generation.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/MrCodeEU/facecheckin/pkg/camera"
	"github.com/MrCodeEU/facecheckin/pkg/logging"
)

// Descriptor is a 128-dimensional face descriptor from dlib.
type Descriptor = face.Descriptor

// Detection is the dominant face found in a frame.
type Detection struct {
	Box        image.Rectangle
	Landmarks  []image.Point
	Descriptor Descriptor
	Confidence float64
}

// Engine detects the dominant face of a frame and computes its descriptor.
// A nil Detection with a nil error means no face was found.
type Engine interface {
	Detect(ctx context.Context, frame camera.Frame) (*Detection, error)
	Close() error
}

// FaceEngine is the subset of the go-face recognizer used by DlibEngine.
type FaceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	Close()
}

// RequiredModels lists the dlib model files LoadModels expects.
var RequiredModels = []string{
	"shape_predictor_5_face_landmarks.dat",
	"dlib_face_recognition_resnet_model_v1.dat",
}

// CNNModel is the optional detector model used when CNN detection is enabled.
const CNNModel = "mmod_human_face_detector.dat"

// ErrModelNotLoaded is returned when models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// cnnEngine routes Recognize through the CNN face detector.
type cnnEngine struct {
	*face.Recognizer
}

func (c cnnEngine) Recognize(imgData []byte) ([]face.Face, error) {
	return c.RecognizeCNN(imgData)
}

// DlibEngine implements Engine using dlib via go-face.
//
// go-face reports no detection score, so every face it finds carries
// Confidence 1.0. The confidence gates of the pipeline (SetMinConfidence,
// the quality assessor and sample acceptance) therefore never reject a
// dlib face; they take effect only for engines that report a real score.
type DlibEngine struct {
	rec           FaceEngine
	modelPath     string
	loaded        bool
	useCNN        bool
	minConfidence float64
	jpegQuality   int
	mu            sync.RWMutex
	factory       func(path string) (FaceEngine, error)
}

// NewDlibEngine creates a new DlibEngine instance.
func NewDlibEngine(useCNN bool) *DlibEngine {
	e := &DlibEngine{
		useCNN:        useCNN,
		minConfidence: 0.5,
		jpegQuality:   95,
	}
	e.factory = e.newRecognizer
	return e
}

func (e *DlibEngine) newRecognizer(path string) (FaceEngine, error) {
	rec, err := face.NewRecognizer(path)
	if err != nil {
		return nil, err
	}
	if e.useCNN {
		return cnnEngine{rec}, nil
	}
	return rec, nil
}

// SetMinConfidence sets the confidence below which faces are discarded.
func (e *DlibEngine) SetMinConfidence(minConfidence float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.minConfidence = minConfidence
}

// MissingModels returns the model files absent from modelPath.
func MissingModels(modelPath string, useCNN bool) []string {
	names := RequiredModels
	if useCNN {
		names = append(append([]string{}, RequiredModels...), CNNModel)
	}
	var missing []string
	for _, name := range names {
		if _, err := os.Stat(filepath.Join(modelPath, name)); err != nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// LoadModels loads the dlib face recognition models from the specified path.
func (e *DlibEngine) LoadModels(modelPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded {
		return nil
	}

	logging.Infof("Loading face recognition models from: %s", modelPath)

	rec, err := e.factory(modelPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelNotLoaded, err)
	}

	e.rec = rec
	e.modelPath = modelPath
	e.loaded = true

	logging.Info("Face recognition models loaded successfully")
	return nil
}

// IsLoaded returns true if models are loaded.
func (e *DlibEngine) IsLoaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}

// Close releases the engine resources. It waits for a running detection.
func (e *DlibEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec != nil {
		e.rec.Close()
		e.rec = nil
	}
	e.loaded = false
	return nil
}

// DetectFaces detects all faces in an encoded JPEG image.
func (e *DlibEngine) DetectFaces(imageData []byte) ([]Detection, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.loaded {
		return nil, ErrModelNotLoaded
	}

	faces, err := e.rec.Recognize(imageData)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	result := make([]Detection, 0, len(faces))
	for _, f := range faces {
		d := Detection{
			Box:        f.Rectangle,
			Landmarks:  f.Shapes,
			Descriptor: f.Descriptor,
			Confidence: 1.0, // go-face has no detection score
		}
		if d.Confidence < e.minConfidence {
			continue
		}
		result = append(result, d)
	}

	logging.Debugf("Detected %d face(s) in image", len(result))
	return result, nil
}

// Detect returns the largest face in the frame, or nil when there is none.
// The dlib call itself cannot be interrupted; ctx is only checked before it starts.
func (e *DlibEngine) Detect(ctx context.Context, frame camera.Frame) (*Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := frame.EncodeJPEG(image.Rectangle{}, e.jpegQuality)
	if err != nil {
		return nil, err
	}

	faces, err := e.DetectFaces(data)
	if err != nil {
		return nil, err
	}

	return Dominant(faces), nil
}

// Dominant returns the face with the largest bounding box, the first on ties.
func Dominant(faces []Detection) *Detection {
	if len(faces) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(faces); i++ {
		if area(faces[i].Box) > area(faces[best].Box) {
			best = i
		}
	}
	d := faces[best]
	return &d
}

func area(r image.Rectangle) int {
	return r.Dx() * r.Dy()
}

// EuclideanDistance calculates the Euclidean distance between two descriptors.
func EuclideanDistance(d1, d2 Descriptor) float64 {
	var sum float64
	for i := range d1 {
		diff := float64(d1[i]) - float64(d2[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
