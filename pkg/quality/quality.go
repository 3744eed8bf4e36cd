// Package quality scores camera frames for face capture.
//
// A Snapshot is computed for every frame from the frame pixels and the
// engine's detection. It is never stored; callers use it to gate capture
// and to drive positioning hints.
package quality

import (
	"math"

	"github.com/MrCodeEU/facecheckin/pkg/camera"
	"github.com/MrCodeEU/facecheckin/pkg/recognition"
)

// SizeClass describes the face size relative to the frame width.
type SizeClass string

const (
	SizeTooSmall SizeClass = "too-small"
	SizeGood     SizeClass = "good"
	SizeTooLarge SizeClass = "too-large"
)

// AngleClass describes where the face sits relative to the frame centre,
// as seen by the user in the mirrored preview.
type AngleClass string

const (
	AngleCentered AngleClass = "centered"
	AngleLeft     AngleClass = "left"
	AngleRight    AngleClass = "right"
	AngleUp       AngleClass = "up"
	AngleDown     AngleClass = "down"
)

// Snapshot is the quality assessment of a single frame.
type Snapshot struct {
	FaceDetected   bool       `json:"face_detected"`
	FaceInPosition bool       `json:"face_in_position"`
	GoodLighting   bool       `json:"good_lighting"`
	Size           SizeClass  `json:"size"`
	Angle          AngleClass `json:"angle"`
	Score          float64    `json:"score"`
	Luminance      float64    `json:"luminance"`
}

// Thresholds configures an Assessor.
type Thresholds struct {
	MinConfidence   float64
	MinLuminance    float64
	MaxLuminance    float64
	MinFaceRatio    float64
	MaxFaceRatio    float64
	CenterTolerance float64
}

// AttendanceThresholds are used at the check-in kiosk.
func AttendanceThresholds() Thresholds {
	return Thresholds{
		MinConfidence:   0.7,
		MinLuminance:    80,
		MaxLuminance:    200,
		MinFaceRatio:    0.15,
		MaxFaceRatio:    0.55,
		CenterTolerance: 0.15,
	}
}

// ProfileThresholds are used for self-enrollment from the member profile,
// where lighting and distance vary more.
func ProfileThresholds() Thresholds {
	return Thresholds{
		MinConfidence:   0.7,
		MinLuminance:    70,
		MaxLuminance:    210,
		MinFaceRatio:    0.15,
		MaxFaceRatio:    0.65,
		CenterTolerance: 0.15,
	}
}

// Assessor computes Snapshots. It holds no state besides its thresholds
// and is safe for concurrent use.
type Assessor struct {
	t Thresholds
}

// NewAssessor creates an Assessor with the given thresholds.
func NewAssessor(t Thresholds) *Assessor {
	return &Assessor{t: t}
}

// Thresholds returns the thresholds of the assessor.
func (a *Assessor) Thresholds() Thresholds {
	return a.t
}

// Assess scores a frame. det may be nil when no face was found.
func (a *Assessor) Assess(frame camera.Frame, det *recognition.Detection) Snapshot {
	s := Snapshot{
		Size:  SizeTooSmall,
		Angle: AngleCentered,
	}

	if frame.Image != nil {
		s.Luminance = MeanLuminance(frame)
		s.GoodLighting = s.Luminance >= a.t.MinLuminance && s.Luminance <= a.t.MaxLuminance
	}

	s.FaceDetected = det != nil && det.Confidence >= a.t.MinConfidence
	if s.FaceDetected && frame.Width > 0 && frame.Height > 0 {
		s.Size = a.size(det, frame.Width)
		s.Angle = a.angle(det, frame.Width, frame.Height)
	}

	s.FaceInPosition = s.FaceDetected && s.Angle == AngleCentered && s.Size == SizeGood
	s.Score = score(s)
	return s
}

// epsilon absorbs rounding of normalised coordinates, so that a face
// exactly on a threshold counts as inside it.
const epsilon = 1e-9

func (a *Assessor) size(det *recognition.Detection, frameWidth int) SizeClass {
	ratio := float64(det.Box.Dx()) / float64(frameWidth)
	switch {
	case ratio < a.t.MinFaceRatio-epsilon:
		return SizeTooSmall
	case ratio > a.t.MaxFaceRatio+epsilon:
		return SizeTooLarge
	}
	return SizeGood
}

// angle classifies the box centre. The x axis is mirrored so that "left"
// means the user's left in the preview.
func (a *Assessor) angle(det *recognition.Detection, frameWidth, frameHeight int) AngleClass {
	b := det.Box
	cx := 1 - (float64(b.Min.X)+float64(b.Dx())/2)/float64(frameWidth)
	cy := (float64(b.Min.Y) + float64(b.Dy())/2) / float64(frameHeight)

	dx := cx - 0.5
	dy := cy - 0.5
	tol := a.t.CenterTolerance + epsilon
	if math.Abs(dx) <= tol && math.Abs(dy) <= tol {
		return AngleCentered
	}

	if math.Abs(dx) >= math.Abs(dy) {
		if dx < 0 {
			return AngleLeft
		}
		return AngleRight
	}
	if dy < 0 {
		return AngleUp
	}
	return AngleDown
}

// score weights the four checks 0.3/0.3/0.2/0.2. It is summed in tenths
// so that a perfect frame scores exactly 1.
func score(s Snapshot) float64 {
	tenths := 0
	if s.FaceDetected {
		tenths += 3
	}
	if s.FaceInPosition {
		tenths += 3
	}
	if s.GoodLighting {
		tenths += 2
	}
	if s.Size == SizeGood {
		tenths += 2
	}
	return float64(tenths) / 10
}

// MeanLuminance returns the mean of 0.299R + 0.587G + 0.114B over all
// pixels of the frame, in 8-bit units.
func MeanLuminance(frame camera.Frame) float64 {
	img := frame.NRGBA()
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0
	}

	var sum float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			p := row[x*4 : x*4+3]
			sum += 0.299*float64(p[0]) + 0.587*float64(p[1]) + 0.114*float64(p[2])
		}
	}
	return sum / float64(n)
}
