// Package camera provides frame sources for the capture pipeline.
// It supports V4L2 webcams through OpenCV and directory replay for
// hardware-less runs.
package camera

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
)

// Frame represents a single camera frame.
type Frame struct {
	Image     image.Image
	Width     int
	Height    int
	Timestamp time.Time
}

// NewFrame wraps an image into a Frame stamped with the given time.
func NewFrame(img image.Image, ts time.Time) Frame {
	b := img.Bounds()
	return Frame{
		Image:     img,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Timestamp: ts,
	}
}

// NRGBA returns the frame pixels as a non-premultiplied RGBA image.
// The frame is not copied when it already is one.
func (f Frame) NRGBA() *image.NRGBA {
	if img, ok := f.Image.(*image.NRGBA); ok {
		return img
	}
	return imaging.Clone(f.Image)
}

// Crop returns the part of the frame inside r, clipped to the frame bounds.
func (f Frame) Crop(r image.Rectangle) image.Image {
	return imaging.Crop(f.Image, r)
}

// EncodeJPEG encodes the frame, or the region r when it is not empty, as JPEG.
func (f Frame) EncodeJPEG(r image.Rectangle, quality int) ([]byte, error) {
	if f.Image == nil {
		return nil, ErrNoFrame
	}
	img := f.Image
	if !r.Empty() {
		img = f.Crop(r)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}

// DeviceInfo contains information about a frame source.
type DeviceInfo struct {
	Path   string
	Name   string
	Driver string
}

// Source defines the interface for frame sources.
// A Source is owned by one capture session at a time.
type Source interface {
	Open() error
	Capture() (Frame, error)
	Close() error
	DeviceInfo() DeviceInfo
}

// ErrCameraNotFound is returned when the camera device is not found.
var ErrCameraNotFound = errors.New("camera device not found")

// ErrPermissionDenied is returned when the camera exists but may not be opened.
var ErrPermissionDenied = errors.New("camera permission denied")

// ErrCameraNotOpen is returned when trying to capture from a closed camera.
var ErrCameraNotOpen = errors.New("camera not open")

// ErrNoFrame is returned when no frame could be captured.
var ErrNoFrame = errors.New("failed to capture frame")

// ErrEndOfStream is returned by sources that have no more frames to give.
var ErrEndOfStream = errors.New("end of frame stream")
