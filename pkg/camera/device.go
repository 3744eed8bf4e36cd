package camera

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Device captures frames from a V4L2 webcam through OpenCV.
type Device struct {
	mu      sync.Mutex
	path    string
	width   int
	height  int
	fps     int
	capture *gocv.VideoCapture
	mat     gocv.Mat
}

// NewDevice creates a webcam source. The device is not opened until Open.
func NewDevice(path string, width, height, fps int) *Device {
	return &Device{
		path:   path,
		width:  width,
		height: height,
		fps:    fps,
	}
}

// Open opens the webcam and applies the requested resolution and frame rate.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture != nil {
		return nil
	}

	if err := probeDevice(d.path); err != nil {
		return err
	}

	var target interface{} = d.path
	if id, err := strconv.Atoi(d.path); err == nil {
		target = id
	}

	vc, err := gocv.OpenVideoCapture(target)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCameraNotFound, d.path, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("%w: %s", ErrCameraNotFound, d.path)
	}

	if d.width > 0 && d.height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(d.width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(d.height))
	}
	if d.fps > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(d.fps))
	}

	d.capture = vc
	d.mat = gocv.NewMat()
	return nil
}

// Capture reads the next frame from the webcam.
func (d *Device) Capture() (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture == nil {
		return Frame{}, ErrCameraNotOpen
	}

	if ok := d.capture.Read(&d.mat); !ok || d.mat.Empty() {
		return Frame{}, ErrNoFrame
	}

	img, err := d.mat.ToImage()
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}

	return NewFrame(img, time.Now()), nil
}

// Close releases the webcam. It is safe to call on a closed device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.capture == nil {
		return nil
	}

	d.mat.Close()
	err := d.capture.Close()
	d.capture = nil
	return err
}

// DeviceInfo returns information about the webcam.
func (d *Device) DeviceInfo() DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := DeviceInfo{Path: d.path, Driver: "opencv"}
	if d.capture != nil {
		info.Name = d.capture.CodecString()
	}
	return info
}

// probeDevice checks that a device node exists and may be opened, so that
// permission problems surface as ErrPermissionDenied instead of a generic
// OpenCV failure. Numeric indices are left to OpenCV.
func probeDevice(path string) error {
	if _, err := strconv.Atoi(path); err == nil {
		return nil
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		case errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("%w: %s", ErrCameraNotFound, path)
		}
		return fmt.Errorf("%w: %s: %v", ErrCameraNotFound, path, err)
	}
	return f.Close()
}
