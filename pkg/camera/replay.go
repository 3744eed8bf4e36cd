package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // register WebP decoder for replay frames
)

var replayExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// Replay serves still images from a directory as camera frames, in
// lexical file name order.
type Replay struct {
	mu    sync.Mutex
	dir   string
	loop  bool
	files []string
	next  int
	open  bool
}

// NewReplay creates a replay source over dir. When loop is set the
// sequence restarts after the last file, otherwise Capture reports
// ErrEndOfStream once the directory is exhausted.
func NewReplay(dir string, loop bool) *Replay {
	return &Replay{dir: dir, loop: loop}
}

// Open lists the frame files in the replay directory.
func (r *Replay) Open() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, r.dir)
		}
		return fmt.Errorf("%w: %s: %v", ErrCameraNotFound, r.dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if replayExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			files = append(files, filepath.Join(r.dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: no images in %s", ErrCameraNotFound, r.dir)
	}
	sort.Strings(files)

	r.files = files
	r.next = 0
	r.open = true
	return nil
}

// Capture decodes the next image in the sequence.
func (r *Replay) Capture() (Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.open {
		return Frame{}, ErrCameraNotOpen
	}

	if r.next >= len(r.files) {
		if !r.loop {
			return Frame{}, fmt.Errorf("%w: replay of %s exhausted", ErrEndOfStream, r.dir)
		}
		r.next = 0
	}

	path := r.files[r.next]
	r.next++

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %s: %v", ErrNoFrame, filepath.Base(path), err)
	}

	return NewFrame(img, time.Now()), nil
}

// Close stops the replay.
func (r *Replay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open = false
	return nil
}

// DeviceInfo returns information about the replay source.
func (r *Replay) DeviceInfo() DeviceInfo {
	return DeviceInfo{
		Path:   r.dir,
		Name:   "directory replay",
		Driver: "replay",
	}
}
