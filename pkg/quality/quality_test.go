package quality

import (
	"image"
	"image/color"
	"math"
	"testing"
	"time"

	"github.com/MrCodeEU/facecheckin/pkg/camera"
	"github.com/MrCodeEU/facecheckin/pkg/recognition"
)

func grayFrame(w, h int, y uint8) camera.Frame {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			img.SetNRGBA(px, py, color.NRGBA{R: y, G: y, B: y, A: 255})
		}
	}
	return camera.NewFrame(img, time.Now())
}

func face(x0, y0, x1, y1 int, confidence float64) *recognition.Detection {
	return &recognition.Detection{
		Box:        image.Rect(x0, y0, x1, y1),
		Confidence: confidence,
	}
}

func TestAssess(t *testing.T) {
	lit := grayFrame(640, 480, 128)
	dark := grayFrame(640, 480, 20)

	tests := []struct {
		name         string
		thresholds   Thresholds
		frame        camera.Frame
		det          *recognition.Detection
		wantDetected bool
		wantPosition bool
		wantLighting bool
		wantSize     SizeClass
		wantAngle    AngleClass
		wantScore    float64
	}{
		{
			name:         "good frame",
			thresholds:   AttendanceThresholds(),
			frame:        lit,
			det:          face(220, 140, 420, 340, 0.95),
			wantDetected: true, wantPosition: true, wantLighting: true,
			wantSize: SizeGood, wantAngle: AngleCentered, wantScore: 1.0,
		},
		{
			name:         "confidence at threshold",
			thresholds:   AttendanceThresholds(),
			frame:        lit,
			det:          face(220, 140, 420, 340, 0.7),
			wantDetected: true, wantPosition: true, wantLighting: true,
			wantSize: SizeGood, wantAngle: AngleCentered, wantScore: 1.0,
		},
		{
			name:         "no face",
			thresholds:   AttendanceThresholds(),
			frame:        lit,
			det:          nil,
			wantLighting: true,
			wantSize:     SizeTooSmall, wantAngle: AngleCentered, wantScore: 0.2,
		},
		{
			name:         "low confidence",
			thresholds:   AttendanceThresholds(),
			frame:        lit,
			det:          face(220, 140, 420, 340, 0.6),
			wantLighting: true,
			wantSize:     SizeTooSmall, wantAngle: AngleCentered, wantScore: 0.2,
		},
		{
			name:         "too small",
			thresholds:   AttendanceThresholds(),
			frame:        lit,
			det:          face(288, 208, 352, 272, 0.9),
			wantDetected: true, wantLighting: true,
			wantSize: SizeTooSmall, wantAngle: AngleCentered, wantScore: 0.5,
		},
		{
			name:         "too large for attendance",
			thresholds:   AttendanceThresholds(),
			frame:        lit,
			det:          face(120, 40, 520, 440, 0.9),
			wantDetected: true, wantLighting: true,
			wantSize: SizeTooLarge, wantAngle: AngleCentered, wantScore: 0.5,
		},
		{
			name:         "same face good for profile",
			thresholds:   ProfileThresholds(),
			frame:        lit,
			det:          face(120, 40, 520, 440, 0.9),
			wantDetected: true, wantPosition: true, wantLighting: true,
			wantSize: SizeGood, wantAngle: AngleCentered, wantScore: 1.0,
		},
		{
			name:         "face on image left is user's right",
			thresholds:   AttendanceThresholds(),
			frame:        lit,
			det:          face(20, 140, 220, 340, 0.9),
			wantDetected: true, wantLighting: true,
			wantSize: SizeGood, wantAngle: AngleRight, wantScore: 0.7,
		},
		{
			name:         "face on image right is user's left",
			thresholds:   AttendanceThresholds(),
			frame:        lit,
			det:          face(420, 140, 620, 340, 0.9),
			wantDetected: true, wantLighting: true,
			wantSize: SizeGood, wantAngle: AngleLeft, wantScore: 0.7,
		},
		{
			name:         "face too high",
			thresholds:   AttendanceThresholds(),
			frame:        lit,
			det:          face(220, 0, 420, 100, 0.9),
			wantDetected: true, wantLighting: true,
			wantSize: SizeGood, wantAngle: AngleUp, wantScore: 0.7,
		},
		{
			name:         "face too low",
			thresholds:   AttendanceThresholds(),
			frame:        lit,
			det:          face(220, 380, 420, 480, 0.9),
			wantDetected: true, wantLighting: true,
			wantSize: SizeGood, wantAngle: AngleDown, wantScore: 0.7,
		},
		{
			name:         "centre on the user's left edge",
			thresholds:   AttendanceThresholds(),
			frame:        lit,
			det:          face(352, 176, 480, 304, 0.9),
			wantDetected: true, wantPosition: true, wantLighting: true,
			wantSize: SizeGood, wantAngle: AngleCentered, wantScore: 1.0,
		},
		{
			name:         "centre on the user's right edge",
			thresholds:   AttendanceThresholds(),
			frame:        lit,
			det:          face(160, 176, 288, 304, 0.9),
			wantDetected: true, wantPosition: true, wantLighting: true,
			wantSize: SizeGood, wantAngle: AngleCentered, wantScore: 1.0,
		},
		{
			name:         "centre on the upper edge",
			thresholds:   AttendanceThresholds(),
			frame:        lit,
			det:          face(256, 104, 384, 232, 0.9),
			wantDetected: true, wantPosition: true, wantLighting: true,
			wantSize: SizeGood, wantAngle: AngleCentered, wantScore: 1.0,
		},
		{
			name:         "centre on the lower edge",
			thresholds:   AttendanceThresholds(),
			frame:        lit,
			det:          face(256, 248, 384, 376, 0.9),
			wantDetected: true, wantPosition: true, wantLighting: true,
			wantSize: SizeGood, wantAngle: AngleCentered, wantScore: 1.0,
		},
		{
			name:         "one pixel past the left edge",
			thresholds:   AttendanceThresholds(),
			frame:        lit,
			det:          face(353, 176, 481, 304, 0.9),
			wantDetected: true, wantLighting: true,
			wantSize: SizeGood, wantAngle: AngleLeft, wantScore: 0.7,
		},
		{
			name:         "width exactly at minimum ratio",
			thresholds:   AttendanceThresholds(),
			frame:        lit,
			det:          face(272, 192, 368, 288, 0.9),
			wantDetected: true, wantPosition: true, wantLighting: true,
			wantSize: SizeGood, wantAngle: AngleCentered, wantScore: 1.0,
		},
		{
			name:         "dark frame",
			thresholds:   AttendanceThresholds(),
			frame:        dark,
			det:          face(220, 140, 420, 340, 0.9),
			wantDetected: true, wantPosition: true,
			wantSize: SizeGood, wantAngle: AngleCentered, wantScore: 0.8,
		},
		{
			name:         "too dark for attendance, fine for profile",
			thresholds:   ProfileThresholds(),
			frame:        grayFrame(640, 480, 75),
			det:          face(220, 140, 420, 340, 0.9),
			wantDetected: true, wantPosition: true, wantLighting: true,
			wantSize: SizeGood, wantAngle: AngleCentered, wantScore: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewAssessor(tt.thresholds).Assess(tt.frame, tt.det)

			if s.FaceDetected != tt.wantDetected {
				t.Errorf("FaceDetected = %v, want %v", s.FaceDetected, tt.wantDetected)
			}
			if s.FaceInPosition != tt.wantPosition {
				t.Errorf("FaceInPosition = %v, want %v", s.FaceInPosition, tt.wantPosition)
			}
			if s.GoodLighting != tt.wantLighting {
				t.Errorf("GoodLighting = %v, want %v (luminance %.1f)", s.GoodLighting, tt.wantLighting, s.Luminance)
			}
			if s.Size != tt.wantSize {
				t.Errorf("Size = %s, want %s", s.Size, tt.wantSize)
			}
			if s.Angle != tt.wantAngle {
				t.Errorf("Angle = %s, want %s", s.Angle, tt.wantAngle)
			}
			if s.Score != tt.wantScore {
				t.Errorf("Score = %v, want %v", s.Score, tt.wantScore)
			}
		})
	}
}

func TestAssess_ScoreBounds(t *testing.T) {
	a := NewAssessor(AttendanceThresholds())
	frames := []camera.Frame{grayFrame(64, 48, 0), grayFrame(64, 48, 128), grayFrame(64, 48, 255)}
	dets := []*recognition.Detection{nil, face(0, 0, 5, 5, 0.9), face(20, 14, 44, 34, 0.9), face(0, 0, 64, 48, 1)}

	for _, f := range frames {
		for _, d := range dets {
			s := a.Assess(f, d)
			if s.Score < 0 || s.Score > 1 {
				t.Errorf("score %v out of range", s.Score)
			}
			if s.FaceInPosition && (!s.FaceDetected || s.Size != SizeGood || s.Angle != AngleCentered) {
				t.Errorf("in position without its preconditions: %+v", s)
			}
		}
	}
}

func TestMeanLuminance(t *testing.T) {
	tests := []struct {
		name  string
		color color.NRGBA
		want  float64
	}{
		{"black", color.NRGBA{A: 255}, 0},
		{"mid gray", color.NRGBA{R: 128, G: 128, B: 128, A: 255}, 128},
		{"pure red", color.NRGBA{R: 255, A: 255}, 0.299 * 255},
		{"pure green", color.NRGBA{G: 255, A: 255}, 0.587 * 255},
		{"pure blue", color.NRGBA{B: 255, A: 255}, 0.114 * 255},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
			for y := 0; y < 8; y++ {
				for x := 0; x < 8; x++ {
					img.SetNRGBA(x, y, tt.color)
				}
			}
			got := MeanLuminance(camera.NewFrame(img, time.Now()))
			if math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("MeanLuminance = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestMeanLuminance_SubImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			v := uint8(0)
			if x >= 5 {
				v = 200
			}
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}

	sub := img.SubImage(image.Rect(5, 0, 10, 10))
	got := MeanLuminance(camera.NewFrame(sub, time.Now()))
	if math.Abs(got-200) > 1e-6 {
		t.Errorf("expected 200 for the bright half, got %f", got)
	}
}
