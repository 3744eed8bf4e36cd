package capture

import (
	"context"
	"time"

	"github.com/MrCodeEU/facecheckin/pkg/enrollment"
	"github.com/MrCodeEU/facecheckin/pkg/matching"
	"github.com/MrCodeEU/facecheckin/pkg/quality"
)

// Registry provides the enrolled templates a verification run matches against.
type Registry interface {
	ListTemplates(ctx context.Context, scope string) ([]matching.Entry, error)
}

// EnrollmentSink receives the template of a successful enrollment.
type EnrollmentSink interface {
	StoreTemplate(ctx context.Context, memberID string, tmpl enrollment.Template) error
}

// ResultSink receives every verification result.
type ResultSink interface {
	RecordResult(ctx context.Context, res matching.Result) error
}

// LivenessChecker inspects the accepted samples of an enrollment before
// they are aggregated. A non-nil error fails the attempt.
type LivenessChecker interface {
	CheckSamples(samples []enrollment.Sample) error
}

// EventKind identifies the payload of an Event.
type EventKind string

const (
	EventState    EventKind = "state"
	EventSnapshot EventKind = "snapshot"
	EventSample   EventKind = "sample"
	EventResult   EventKind = "result"
	EventEnrolled EventKind = "enrolled"
)

// Event is a progress notification of a capture run.
type Event struct {
	Kind      EventKind         `json:"kind"`
	SessionID string            `json:"session_id"`
	Time      time.Time         `json:"time"`
	State     State             `json:"state,omitempty"`
	Snapshot  *quality.Snapshot `json:"snapshot,omitempty"`
	Accepted  int               `json:"accepted,omitempty"`
	Attempts  int               `json:"attempts,omitempty"`
	Total     int               `json:"total,omitempty"`
	Result    *matching.Result  `json:"result,omitempty"`
	MemberID  string            `json:"member_id,omitempty"`
	Error     *SessionError     `json:"error,omitempty"`
}

// Observer receives the events of capture runs. Observe is called on the
// run's goroutine and must not block.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ev Event)

func (f ObserverFunc) Observe(ev Event) {
	f(ev)
}
