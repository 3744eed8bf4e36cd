package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MrCodeEU/facecheckin/pkg/attendance"
	"github.com/MrCodeEU/facecheckin/pkg/camera"
	"github.com/MrCodeEU/facecheckin/pkg/capture"
	"github.com/MrCodeEU/facecheckin/pkg/config"
	"github.com/MrCodeEU/facecheckin/pkg/events"
	"github.com/MrCodeEU/facecheckin/pkg/liveness"
	"github.com/MrCodeEU/facecheckin/pkg/logging"
	"github.com/MrCodeEU/facecheckin/pkg/matching"
	"github.com/MrCodeEU/facecheckin/pkg/quality"
	"github.com/MrCodeEU/facecheckin/pkg/recognition"
	"github.com/MrCodeEU/facecheckin/pkg/storage"
)

// profileFromConfig converts a configured profile.
func profileFromConfig(name string, p config.ProfileConfig) capture.Profile {
	return capture.Profile{
		Name: name,
		Thresholds: quality.Thresholds{
			MinConfidence:   p.MinConfidence,
			MinLuminance:    p.MinLuminance,
			MaxLuminance:    p.MaxLuminance,
			MinFaceRatio:    p.MinFaceRatio,
			MaxFaceRatio:    p.MaxFaceRatio,
			CenterTolerance: p.CenterTolerance,
		},
		Capture: capture.CaptureParams{
			RequiredQuality:  p.RequiredQuality,
			AcceptConfidence: p.AcceptConfidence,
			SampleCount:      p.SampleCount,
			MinAccepted:      p.MinAccepted,
			SampleDelay:      time.Duration(p.SampleDelayMS) * time.Millisecond,
		},
	}
}

// profiles returns all configured capture profiles.
func profiles(c *config.Config) []capture.Profile {
	return []capture.Profile{
		profileFromConfig(config.ProfileAttendance, c.Profiles.Attendance),
		profileFromConfig(config.ProfileSelf, c.Profiles.Profile),
	}
}

// captureOptions builds the orchestrator options for the named profile.
func captureOptions(c *config.Config, profile string) (capture.Options, error) {
	p, err := c.Profile(profile)
	if err != nil {
		return capture.Options{}, err
	}
	if profile == "" {
		profile = config.ProfileAttendance
	}

	opts := capture.DefaultOptions()
	opts.Profile = profileFromConfig(profile, p)
	opts.Matching = matching.Options{
		Threshold:  c.Matching.Threshold,
		Index:      c.Matching.Index,
		Candidates: c.Matching.Candidates,
	}
	opts.DetectTimeout = time.Duration(c.Detection.TimeoutMS) * time.Millisecond

	fps := c.Camera.FPS
	opts.NewScheduler = func() capture.Scheduler { return capture.FPSScheduler(fps) }

	if c.Liveness.ConsistencyCheck {
		opts.Liveness = liveness.NewConsistencyChecker(liveness.Config{
			MinVariance:  c.Liveness.MinVariance,
			MaxDeviation: c.Liveness.MaxDeviation,
		})
	}
	return opts, nil
}

// newSource creates the configured frame source.
func newSource(c config.CameraConfig, loop bool) (camera.Source, error) {
	switch c.Source {
	case "device":
		return camera.NewDevice(c.Device, c.Width, c.Height, c.FPS), nil
	case "replay":
		return camera.NewReplay(c.ReplayDir, loop), nil
	}
	return nil, fmt.Errorf("unknown camera source: %s", c.Source)
}

// app holds the components shared by the capture commands.
type app struct {
	engine    *recognition.DlibEngine
	store     *storage.FileStorage
	recorder  *attendance.Recorder
	publisher *events.Publisher
	orch      *capture.Orchestrator
}

// newApp loads the models, opens the stores and wires the orchestrator for
// the named profile.
func newApp(c *config.Config, profile string, loop bool) (*app, error) {
	if err := c.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	if missing := recognition.MissingModels(c.Detection.ModelPath, c.Detection.UseCNN); len(missing) > 0 {
		return nil, fmt.Errorf("missing models in %s: %s (run 'facecheckin download-models')",
			c.Detection.ModelPath, strings.Join(missing, ", "))
	}

	opts, err := captureOptions(c, profile)
	if err != nil {
		return nil, err
	}

	source, err := newSource(c.Camera, loop)
	if err != nil {
		return nil, err
	}

	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.engine = recognition.NewDlibEngine(c.Detection.UseCNN)
	a.engine.SetMinConfidence(c.Detection.MinConfidence)
	if err := a.engine.LoadModels(c.Detection.ModelPath); err != nil {
		return nil, err
	}

	a.store, err = storage.NewFileStorage(c.Storage.DataDir, c.Storage.EncryptionEnabled)
	if err != nil {
		return nil, fmt.Errorf("failed to open template storage: %w", err)
	}

	a.orch = capture.New(source, a.engine, opts)
	a.orch.SetRegistry(a.store)
	a.orch.AddEnrollmentSink(a.store)

	if c.Attendance.Enabled {
		a.recorder, err = attendance.Open(c.Attendance.DatabaseFile)
		if err != nil {
			return nil, err
		}
		a.orch.AddResultSink(a.recorder)
	}

	if c.MQTT.Enabled {
		a.publisher = events.NewPublisher(c.MQTT)
		if err := a.publisher.Connect(); err != nil {
			logging.WithError(err).Warn("MQTT unavailable, events will not be published")
		}
		a.orch.AddEnrollmentSink(a.publisher)
		a.orch.AddResultSink(a.publisher)
	}

	ok = true
	return a, nil
}

// Close releases everything newApp opened.
func (a *app) Close() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			logging.WithError(err).Warn("Failed to close attendance database")
		}
	}
	if a.engine != nil {
		a.engine.Close()
	}
}

// consoleObserver prints capture progress for the terminal commands.
type consoleObserver struct {
	w io.Writer
}

func (o consoleObserver) Observe(ev capture.Event) {
	switch ev.Kind {
	case capture.EventState:
		if msg := stateMessage(ev.State); msg != "" {
			fmt.Fprintln(o.w, msg)
		}
	case capture.EventSample:
		fmt.Fprintf(o.w, "  capture %d/%d (%d accepted)\n", ev.Attempts, ev.Total, ev.Accepted)
	case capture.EventResult:
		r := ev.Result
		if r.Matched {
			fmt.Fprintf(o.w, "  recognized %s (score %.0f)\n", r.TemplateID, r.Score)
		} else {
			fmt.Fprintf(o.w, "  no match (score %.0f)\n", r.Score)
		}
	}
}

func stateMessage(s capture.State) string {
	switch s {
	case capture.StateAwaitingPosition:
		return "Please center your face in front of the camera..."
	case capture.StateCapturing:
		return "Hold still, capturing..."
	case capture.StateAggregating:
		return "Processing captures..."
	case capture.StateVerifying:
		return "Watching for members, press Ctrl+C to stop."
	}
	return ""
}
