// Package capture drives face capture sessions: the enrollment sequence
// that collects and aggregates samples, and the continuous verification
// loop that matches live faces against enrolled templates.
package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrCodeEU/facecheckin/pkg/camera"
	"github.com/MrCodeEU/facecheckin/pkg/enrollment"
	"github.com/MrCodeEU/facecheckin/pkg/logging"
	"github.com/MrCodeEU/facecheckin/pkg/matching"
	"github.com/MrCodeEU/facecheckin/pkg/quality"
	"github.com/MrCodeEU/facecheckin/pkg/recognition"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// State is the state of the capture orchestrator.
type State string

const (
	StateIdle             State = "idle"
	StateAwaitingPosition State = "awaiting-position"
	StateCapturing        State = "capturing"
	StateAggregating      State = "aggregating"
	StateSucceeded        State = "succeeded"
	StateFailed           State = "failed"
	StateVerifying        State = "verifying"
)

// CaptureParams controls the enrollment sample sequence.
type CaptureParams struct {
	RequiredQuality  float64       // minimum snapshot score to start capturing
	AcceptConfidence float64       // a sample needs a detection confidence above this
	SampleCount      int           // capture attempts per enrollment
	MinAccepted      int           // accepted samples needed to succeed
	SampleDelay      time.Duration // wait before each attempt
}

// Profile bundles quality thresholds and capture parameters of one flow.
type Profile struct {
	Name       string
	Thresholds quality.Thresholds
	Capture    CaptureParams
}

// AttendanceProfile is used at the check-in kiosk.
func AttendanceProfile() Profile {
	return Profile{
		Name:       "attendance",
		Thresholds: quality.AttendanceThresholds(),
		Capture: CaptureParams{
			RequiredQuality:  0.7,
			AcceptConfidence: 0.7,
			SampleCount:      3,
			MinAccepted:      3,
			SampleDelay:      500 * time.Millisecond,
		},
	}
}

// SelfEnrollmentProfile is used when members enroll from their profile page.
func SelfEnrollmentProfile() Profile {
	return Profile{
		Name:       "profile",
		Thresholds: quality.ProfileThresholds(),
		Capture: CaptureParams{
			RequiredQuality:  0.7,
			AcceptConfidence: 0.7,
			SampleCount:      5,
			MinAccepted:      3,
			SampleDelay:      400 * time.Millisecond,
		},
	}
}

// Options configures an Orchestrator.
type Options struct {
	Profile       Profile
	Matching      matching.Options
	DetectTimeout time.Duration
	NewScheduler  func() Scheduler
	Liveness      LivenessChecker // nil disables the check
	JPEGQuality   int
}

// DefaultOptions returns the attendance profile at 15 frames per second.
func DefaultOptions() Options {
	return Options{
		Profile:       AttendanceProfile(),
		Matching:      matching.DefaultOptions(),
		DetectTimeout: 2 * time.Second,
		NewScheduler:  func() Scheduler { return FPSScheduler(15) },
		JPEGQuality:   90,
	}
}

// runtime is shared by orchestrators derived with WithProfile, so that
// they keep to one run and one inference at a time.
type runtime struct {
	running  atomic.Bool
	inflight chan struct{}

	mu    sync.Mutex
	state State
}

// Orchestrator runs capture sessions over one camera and one engine.
type Orchestrator struct {
	source   camera.Source
	engine   recognition.Engine
	assessor *quality.Assessor
	opts     Options

	registry    Registry
	enrollSinks []EnrollmentSink
	resultSinks []ResultSink
	observers   []Observer

	rt *runtime
}

// New creates an orchestrator.
func New(source camera.Source, engine recognition.Engine, opts Options) *Orchestrator {
	if opts.DetectTimeout <= 0 {
		opts.DetectTimeout = 2 * time.Second
	}
	if opts.NewScheduler == nil {
		opts.NewScheduler = func() Scheduler { return FPSScheduler(15) }
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 90
	}
	return &Orchestrator{
		source:   source,
		engine:   engine,
		assessor: quality.NewAssessor(opts.Profile.Thresholds),
		opts:     opts,
		rt: &runtime{
			inflight: make(chan struct{}, 1),
			state:    StateIdle,
		},
	}
}

// WithProfile returns an orchestrator using p that shares camera, engine,
// sinks and the single-run guard with o.
func (o *Orchestrator) WithProfile(p Profile) *Orchestrator {
	opts := o.opts
	opts.Profile = p
	return &Orchestrator{
		source:      o.source,
		engine:      o.engine,
		assessor:    quality.NewAssessor(p.Thresholds),
		opts:        opts,
		registry:    o.registry,
		enrollSinks: o.enrollSinks,
		resultSinks: o.resultSinks,
		observers:   o.observers,
		rt:          o.rt,
	}
}

// SetRegistry sets the template source for verification.
func (o *Orchestrator) SetRegistry(r Registry) {
	o.registry = r
}

// AddEnrollmentSink registers a consumer of enrolled templates.
func (o *Orchestrator) AddEnrollmentSink(s EnrollmentSink) {
	o.enrollSinks = append(o.enrollSinks, s)
}

// AddResultSink registers a consumer of verification results.
func (o *Orchestrator) AddResultSink(s ResultSink) {
	o.resultSinks = append(o.resultSinks, s)
}

// AddObserver registers a progress observer.
func (o *Orchestrator) AddObserver(obs Observer) {
	o.observers = append(o.observers, obs)
}

// Profile returns the capture profile of the orchestrator.
func (o *Orchestrator) Profile() Profile {
	return o.opts.Profile
}

// State returns the state of the current or most recent run.
func (o *Orchestrator) State() State {
	o.rt.mu.Lock()
	defer o.rt.mu.Unlock()
	return o.rt.state
}

// Active reports whether a run is in progress.
func (o *Orchestrator) Active() bool {
	return o.rt.running.Load()
}

type sessionKey struct{}

// WithSessionID attaches a session id to ctx; runs started with it report
// events under that id instead of a generated one.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

type scopeKey struct{}

// SessionIDFromContext returns the id of the session ctx belongs to. Sinks
// receive contexts carrying it.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// ScopeFromContext returns the registry scope of the verification session
// ctx belongs to.
func ScopeFromContext(ctx context.Context) string {
	scope, _ := ctx.Value(scopeKey{}).(string)
	return scope
}

// run is the state of one session.
type run struct {
	o   *Orchestrator
	ctx context.Context
	id  string
	log *logrus.Entry
}

func (o *Orchestrator) begin(ctx context.Context, mode string) (*run, error) {
	if !o.rt.running.CompareAndSwap(false, true) {
		return nil, ErrSessionActive
	}
	id := SessionIDFromContext(ctx)
	if id == "" {
		id = uuid.NewString()
		ctx = WithSessionID(ctx, id)
	}
	return &run{
		o:   o,
		ctx: ctx,
		id:  id,
		log: logging.Component("capture").WithFields(logging.Fields{
			"session": id,
			"mode":    mode,
			"profile": o.opts.Profile.Name,
		}),
	}, nil
}

func (r *run) end() {
	r.o.rt.running.Store(false)
}

// cancelled reports whether the session ended. A cancelled run performs
// no further transitions or emissions.
func (r *run) cancelled() bool {
	return r.ctx.Err() != nil
}

func (r *run) emit(ev Event) {
	ev.SessionID = r.id
	ev.Time = time.Now()
	for _, obs := range r.o.observers {
		obs.Observe(ev)
	}
}

func (r *run) transition(to State) bool {
	if r.cancelled() {
		return false
	}
	r.o.rt.mu.Lock()
	from := r.o.rt.state
	r.o.rt.state = to
	r.o.rt.mu.Unlock()

	r.log.WithFields(logging.Fields{"from": from, "to": to}).Debug("State transition")
	r.emit(Event{Kind: EventState, State: to})
	return true
}

func (r *run) fail(err *SessionError) *SessionError {
	if r.cancelled() {
		return cancelledError(r.ctx)
	}
	r.o.rt.mu.Lock()
	r.o.rt.state = StateFailed
	r.o.rt.mu.Unlock()

	r.log.WithField("code", err.Code).Warn(err.Error())
	r.emit(Event{Kind: EventState, State: StateFailed, Error: err})
	return err
}

// stop ends a verification run. Cancellation is a normal end and reports no error.
func (r *run) stop(serr *SessionError) error {
	if r.cancelled() {
		return nil
	}
	return r.fail(serr)
}

func cancelledError(ctx context.Context) *SessionError {
	return NewSessionError(ErrCodeCancelled, false, ctx.Err())
}

// openSource acquires the camera for the run.
func (r *run) openSource() *SessionError {
	if err := r.o.source.Open(); err != nil {
		if errors.Is(err, camera.ErrPermissionDenied) {
			return NewSessionError(ErrCodeCameraPermission, false, err)
		}
		return NewSessionError(ErrCodeCameraUnavailable, false, err)
	}
	r.log.WithField("device", r.o.source.DeviceInfo().Path).Debug("Camera opened")
	return nil
}

func (r *run) closeSource() {
	if err := r.o.source.Close(); err != nil {
		r.log.WithError(err).Warn("Failed to close camera")
	}
}

// observe captures a frame and runs detection on it. A nil frame with a
// nil error means the tick produced nothing usable. A source that ran out
// of frames ends the run as unavailable.
func (r *run) observe() (*camera.Frame, *recognition.Detection, *SessionError) {
	frame, err := r.o.source.Capture()
	if err != nil {
		if errors.Is(err, camera.ErrNoFrame) {
			r.log.WithError(err).Debug("Skipping tick without frame")
			return nil, nil, nil
		}
		return nil, nil, NewSessionError(ErrCodeCameraUnavailable, false, err)
	}

	det, err := r.o.detect(r.ctx, frame)
	if err != nil {
		if r.cancelled() {
			return nil, nil, cancelledError(r.ctx)
		}
		if errors.Is(err, recognition.ErrModelNotLoaded) {
			return nil, nil, NewSessionError(ErrCodeEngineUnavailable, false, err)
		}
		r.log.WithError(err).Debug("Detection failed, treating as no face")
		det = nil
	}
	return &frame, det, nil
}

// detect runs one inference. Only one inference may be in flight; the slot
// is released when the engine returns, even after a timeout. A timed out
// inference counts as no detection.
func (o *Orchestrator) detect(ctx context.Context, frame camera.Frame) (*recognition.Detection, error) {
	select {
	case o.rt.inflight <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	type outcome struct {
		det *recognition.Detection
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() { <-o.rt.inflight }()
		det, err := o.engine.Detect(ctx, frame)
		done <- outcome{det, err}
	}()

	timer := time.NewTimer(o.opts.DetectTimeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.det, out.err
	case <-timer.C:
		logging.Component("capture").Debugf("Detection exceeded %s, skipping frame", o.opts.DetectTimeout)
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Enroll runs an enrollment session for memberID and returns the template.
// A Failed session may be retried by calling Enroll again.
func (o *Orchestrator) Enroll(ctx context.Context, memberID string) (enrollment.Template, error) {
	r, err := o.begin(ctx, "enroll")
	if err != nil {
		return enrollment.Template{}, err
	}
	defer r.end()

	r.log = r.log.WithField("member", memberID)
	r.log.Info("Starting enrollment")

	if serr := r.openSource(); serr != nil {
		return enrollment.Template{}, r.fail(serr)
	}
	defer r.closeSource()

	sched := o.opts.NewScheduler()
	sched.Start()
	defer sched.Stop()

	if !r.transition(StateAwaitingPosition) {
		return enrollment.Template{}, cancelledError(ctx)
	}
	if serr := r.awaitPosition(sched); serr != nil {
		return enrollment.Template{}, r.fail(serr)
	}

	if !r.transition(StateCapturing) {
		return enrollment.Template{}, cancelledError(ctx)
	}
	samples, attempts, serr := r.captureSamples()
	if serr != nil {
		return enrollment.Template{}, r.fail(serr)
	}

	if !r.transition(StateAggregating) {
		return enrollment.Template{}, cancelledError(ctx)
	}
	params := o.opts.Profile.Capture
	if len(samples) < params.MinAccepted {
		return enrollment.Template{}, r.fail(insufficientSamples(len(samples), attempts))
	}
	if o.opts.Liveness != nil {
		if err := o.opts.Liveness.CheckSamples(samples); err != nil {
			serr := NewSessionError(ErrCodeLiveness, true, err)
			serr.Accepted, serr.Attempts = len(samples), attempts
			return enrollment.Template{}, r.fail(serr)
		}
	}

	tmpl, err := enrollment.Aggregate(samples)
	if err != nil {
		return enrollment.Template{}, r.fail(insufficientSamples(0, attempts))
	}

	if !r.transition(StateSucceeded) {
		return enrollment.Template{}, cancelledError(ctx)
	}
	r.log.WithField("samples", tmpl.SampleCount).Info("Enrollment succeeded")
	r.emit(Event{Kind: EventEnrolled, MemberID: memberID, Accepted: len(samples), Attempts: attempts})

	// The template is final once Succeeded was reported; sinks are not
	// interrupted by a later cancel and their failures do not undo it.
	sinkCtx := context.WithoutCancel(r.ctx)
	for _, sink := range o.enrollSinks {
		if err := sink.StoreTemplate(sinkCtx, memberID, tmpl); err != nil {
			r.log.WithError(err).Error("Failed to deliver enrolled template")
		}
	}

	return tmpl, nil
}

// awaitPosition ticks until a frame passes the capture gate.
func (r *run) awaitPosition(sched Scheduler) *SessionError {
	required := r.o.opts.Profile.Capture.RequiredQuality
	for {
		if err := sched.Next(r.ctx); err != nil {
			return cancelledError(r.ctx)
		}

		frame, det, serr := r.observe()
		if serr != nil {
			return serr
		}
		if frame == nil {
			continue
		}

		snap := r.o.assessor.Assess(*frame, det)
		if r.cancelled() {
			return cancelledError(r.ctx)
		}
		r.emit(Event{Kind: EventSnapshot, Snapshot: &snap})

		if snap.FaceInPosition && snap.Score >= required {
			return nil
		}
	}
}

// captureSamples makes SampleCount attempts, each after SampleDelay.
// Attempts whose detection is not confident enough are skipped.
func (r *run) captureSamples() ([]enrollment.Sample, int, *SessionError) {
	params := r.o.opts.Profile.Capture
	samples := make([]enrollment.Sample, 0, params.SampleCount)

	for attempt := 1; attempt <= params.SampleCount; attempt++ {
		if err := sleep(r.ctx, params.SampleDelay); err != nil {
			return nil, attempt - 1, cancelledError(r.ctx)
		}

		frame, det, serr := r.observe()
		if serr != nil {
			return nil, attempt, serr
		}

		if frame != nil && det != nil && det.Confidence > params.AcceptConfidence {
			img, err := frame.EncodeJPEG(det.Box, r.o.opts.JPEGQuality)
			if err != nil {
				r.log.WithError(err).Warn("Failed to encode sample image")
			} else {
				samples = append(samples, enrollment.Sample{
					Descriptor: det.Descriptor,
					Image:      img,
					Confidence: det.Confidence,
				})
			}
		}

		if r.cancelled() {
			return nil, attempt, cancelledError(r.ctx)
		}
		r.log.Debugf("Capture %d/%d: %d accepted", attempt, params.SampleCount, len(samples))
		r.emit(Event{Kind: EventSample, Accepted: len(samples), Attempts: attempt, Total: params.SampleCount})
	}

	return samples, params.SampleCount, nil
}

// Verify runs the continuous verification loop over the templates of
// scope until ctx is cancelled. Every in-position frame is matched and its
// result delivered to the result sinks immediately.
func (o *Orchestrator) Verify(ctx context.Context, scope string) error {
	r, err := o.begin(ctx, "verify")
	if err != nil {
		return err
	}
	defer r.end()
	r.ctx = context.WithValue(r.ctx, scopeKey{}, scope)

	if o.registry == nil {
		return r.stop(NewSessionError(ErrCodeRegistryUnavailable, false, errors.New("no registry configured")))
	}
	entries, err := o.registry.ListTemplates(ctx, scope)
	if err != nil {
		if r.cancelled() {
			return nil
		}
		return r.stop(NewSessionError(ErrCodeRegistryUnavailable, false, err))
	}
	matcher := matching.NewMatcher(entries, o.opts.Matching)
	r.log.WithField("templates", matcher.Len()).Info("Starting verification")

	if serr := r.openSource(); serr != nil {
		return r.stop(serr)
	}
	defer r.closeSource()

	sched := o.opts.NewScheduler()
	sched.Start()
	defer sched.Stop()

	if !r.transition(StateVerifying) {
		return nil
	}

	for {
		if err := sched.Next(ctx); err != nil {
			return nil
		}

		frame, det, serr := r.observe()
		if serr != nil {
			if serr.Code == ErrCodeCancelled {
				return nil
			}
			return r.stop(serr)
		}
		if frame == nil {
			continue
		}

		snap := o.assessor.Assess(*frame, det)
		if r.cancelled() {
			return nil
		}
		r.emit(Event{Kind: EventSnapshot, Snapshot: &snap})

		if !snap.FaceInPosition {
			continue
		}

		res := matcher.Match(det.Descriptor)
		if r.cancelled() {
			return nil
		}
		r.log.WithFields(logging.Fields{
			"matched":  res.Matched,
			"distance": res.BestDistance,
			"template": res.TemplateID,
		}).Debug("Verification result")
		r.emit(Event{Kind: EventResult, Result: &res})

		for _, sink := range o.resultSinks {
			if err := sink.RecordResult(r.ctx, res); err != nil {
				r.log.WithError(err).Warn("Result sink failed")
			}
		}
	}
}
