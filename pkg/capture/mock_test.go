package capture

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/MrCodeEU/facecheckin/pkg/camera"
	"github.com/MrCodeEU/facecheckin/pkg/enrollment"
	"github.com/MrCodeEU/facecheckin/pkg/matching"
	"github.com/MrCodeEU/facecheckin/pkg/recognition"
)

// MockSource implements camera.Source for testing
type MockSource struct {
	OpenFunc    func() error
	CaptureFunc func() (camera.Frame, error)
	CloseFunc   func() error

	mu     sync.Mutex
	opens  int
	closes int
}

func (m *MockSource) Open() error {
	m.mu.Lock()
	m.opens++
	m.mu.Unlock()
	if m.OpenFunc != nil {
		return m.OpenFunc()
	}
	return nil
}

func (m *MockSource) Capture() (camera.Frame, error) {
	if m.CaptureFunc != nil {
		return m.CaptureFunc()
	}
	return testFrame, nil
}

func (m *MockSource) Close() error {
	m.mu.Lock()
	m.closes++
	m.mu.Unlock()
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockSource) DeviceInfo() camera.DeviceInfo {
	return camera.DeviceInfo{Path: "/dev/video-mock", Name: "mock", Driver: "mock"}
}

func (m *MockSource) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens, m.closes
}

// MockEngine implements recognition.Engine for testing
type MockEngine struct {
	DetectFunc func(ctx context.Context, frame camera.Frame) (*recognition.Detection, error)
	CloseFunc  func() error
}

func (m *MockEngine) Detect(ctx context.Context, frame camera.Frame) (*recognition.Detection, error) {
	if m.DetectFunc != nil {
		return m.DetectFunc(ctx, frame)
	}
	return nil, nil
}

func (m *MockEngine) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// scripted returns an engine answering successive calls with dets; the
// last entry repeats once the script is exhausted.
func scripted(dets ...*recognition.Detection) *MockEngine {
	var mu sync.Mutex
	calls := 0
	return &MockEngine{
		DetectFunc: func(ctx context.Context, frame camera.Frame) (*recognition.Detection, error) {
			mu.Lock()
			defer mu.Unlock()
			i := calls
			if i >= len(dets) {
				i = len(dets) - 1
			}
			calls++
			return dets[i], nil
		},
	}
}

// MockRegistry implements Registry for testing
type MockRegistry struct {
	ListTemplatesFunc func(ctx context.Context, scope string) ([]matching.Entry, error)
}

func (m *MockRegistry) ListTemplates(ctx context.Context, scope string) ([]matching.Entry, error) {
	if m.ListTemplatesFunc != nil {
		return m.ListTemplatesFunc(ctx, scope)
	}
	return nil, nil
}

// MockEnrollmentSink implements EnrollmentSink for testing
type MockEnrollmentSink struct {
	StoreTemplateFunc func(ctx context.Context, memberID string, tmpl enrollment.Template) error

	mu     sync.Mutex
	stored map[string]enrollment.Template
}

func (m *MockEnrollmentSink) StoreTemplate(ctx context.Context, memberID string, tmpl enrollment.Template) error {
	m.mu.Lock()
	if m.stored == nil {
		m.stored = make(map[string]enrollment.Template)
	}
	m.stored[memberID] = tmpl
	m.mu.Unlock()
	if m.StoreTemplateFunc != nil {
		return m.StoreTemplateFunc(ctx, memberID, tmpl)
	}
	return nil
}

func (m *MockEnrollmentSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stored)
}

// MockResultSink implements ResultSink for testing
type MockResultSink struct {
	RecordResultFunc func(ctx context.Context, res matching.Result) error

	mu      sync.Mutex
	results []matching.Result
}

func (m *MockResultSink) RecordResult(ctx context.Context, res matching.Result) error {
	m.mu.Lock()
	m.results = append(m.results, res)
	m.mu.Unlock()
	if m.RecordResultFunc != nil {
		return m.RecordResultFunc(ctx, res)
	}
	return nil
}

func (m *MockResultSink) recorded() []matching.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]matching.Result(nil), m.results...)
}

// MockLiveness implements LivenessChecker for testing
type MockLiveness struct {
	CheckSamplesFunc func(samples []enrollment.Sample) error
}

func (m *MockLiveness) CheckSamples(samples []enrollment.Sample) error {
	if m.CheckSamplesFunc != nil {
		return m.CheckSamplesFunc(samples)
	}
	return nil
}

// recorder collects observed events.
type recorder struct {
	mu      sync.Mutex
	events  []Event
	onEvent func(Event)
}

func (r *recorder) Observe(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	if r.onEvent != nil {
		r.onEvent(ev)
	}
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) states() []State {
	var states []State
	for _, ev := range r.all() {
		if ev.Kind == EventState {
			states = append(states, ev.State)
		}
	}
	return states
}

func (r *recorder) kinds(kind EventKind) []Event {
	var out []Event
	for _, ev := range r.all() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

var testFrame = func() camera.Frame {
	img := image.NewNRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	return camera.NewFrame(img, time.Now())
}()

// centred returns an in-position detection with the given confidence.
func centred(confidence float64, d recognition.Descriptor) *recognition.Detection {
	return &recognition.Detection{
		Box:        image.Rect(220, 140, 420, 340),
		Descriptor: d,
		Confidence: confidence,
	}
}

// offCentre returns a confident detection off to one side of the frame.
func offCentre() *recognition.Detection {
	return &recognition.Detection{
		Box:        image.Rect(20, 140, 220, 340),
		Confidence: 0.95,
	}
}

func desc(v float32) recognition.Descriptor {
	var d recognition.Descriptor
	for i := range d {
		d[i] = v
	}
	return d
}

func testOptions(p Profile) Options {
	p.Capture.SampleDelay = time.Millisecond
	opts := DefaultOptions()
	opts.Profile = p
	opts.DetectTimeout = time.Second
	opts.NewScheduler = func() Scheduler { return ImmediateScheduler{} }
	return opts
}
