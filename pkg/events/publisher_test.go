package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/MrCodeEU/facecheckin/pkg/capture"
	"github.com/MrCodeEU/facecheckin/pkg/config"
	"github.com/MrCodeEU/facecheckin/pkg/enrollment"
	"github.com/MrCodeEU/facecheckin/pkg/matching"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func newTestPublisher(m *MockPublisher) *Publisher {
	return &Publisher{pub: m, prefix: "church", qos: 1, timeout: time.Second}
}

func TestPublisher_Topic(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{prefix: "facecheckin", want: "facecheckin/verification"},
		{prefix: "", want: "verification"},
	}

	for _, tt := range tests {
		p := &Publisher{prefix: tt.prefix}
		if got := p.Topic(TopicVerification); got != tt.want {
			t.Errorf("Topic() with prefix %q = %s, want %s", tt.prefix, got, tt.want)
		}
	}
}

func TestPublisher_RecordResult(t *testing.T) {
	m := &MockPublisher{}
	p := newTestPublisher(m)

	ctx := capture.WithSessionID(context.Background(), "s-1")
	res := matching.Result{Matched: true, BestDistance: 0.3, Score: 70, TemplateID: "alice"}
	if err := p.RecordResult(ctx, res); err != nil {
		t.Fatalf("RecordResult failed: %v", err)
	}

	sent := m.sent()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	if sent[0].topic != "church/verification" || sent[0].qos != 1 || sent[0].retained {
		t.Errorf("unexpected message envelope: %+v", sent[0])
	}

	var ev VerificationEvent
	if err := json.Unmarshal(sent[0].payload, &ev); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if ev.SessionID != "s-1" || ev.Result.TemplateID != "alice" || !ev.Result.Matched {
		t.Errorf("unexpected payload: %+v", ev)
	}
}

func TestPublisher_StoreTemplate(t *testing.T) {
	m := &MockPublisher{}
	p := newTestPublisher(m)

	tmpl := enrollment.Template{Image: []byte("jpeg"), SampleCount: 4}
	tmpl.Descriptor[0] = 0.5
	if err := p.StoreTemplate(context.Background(), "bob", tmpl); err != nil {
		t.Fatalf("StoreTemplate failed: %v", err)
	}

	sent := m.sent()
	if len(sent) != 1 || sent[0].topic != "church/enrollment" {
		t.Fatalf("unexpected messages: %+v", sent)
	}

	var raw map[string]any
	if err := json.Unmarshal(sent[0].payload, &raw); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if raw["member_id"] != "bob" || raw["sample_count"] != float64(4) {
		t.Errorf("unexpected payload: %v", raw)
	}
	for _, key := range []string{"descriptor", "image", "template"} {
		if _, ok := raw[key]; ok {
			t.Errorf("payload must not carry %s", key)
		}
	}
}

func TestPublisher_Errors(t *testing.T) {
	tests := []struct {
		name    string
		token   func() mqtt.Token
		ctx     func() (context.Context, context.CancelFunc)
		timeout time.Duration
		wantErr error
	}{
		{
			name:    "broker error",
			token:   func() mqtt.Token { return newToken(errBroker, true) },
			wantErr: errBroker,
		},
		{
			name:  "cancelled while waiting",
			token: func() mqtt.Token { return newToken(nil, false) },
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 10*time.Millisecond)
			},
			timeout: time.Minute,
			wantErr: context.DeadlineExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &MockPublisher{PublishFunc: func(string) mqtt.Token { return tt.token() }}
			p := newTestPublisher(m)
			if tt.timeout > 0 {
				p.timeout = tt.timeout
			}

			ctx, cancel := context.Background(), context.CancelFunc(func() {})
			if tt.ctx != nil {
				ctx, cancel = tt.ctx()
			}
			defer cancel()

			err := p.RecordResult(ctx, matching.Result{})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPublisher_Timeout(t *testing.T) {
	m := &MockPublisher{PublishFunc: func(string) mqtt.Token { return newToken(nil, false) }}
	p := newTestPublisher(m)
	p.timeout = 10 * time.Millisecond

	if err := p.RecordResult(context.Background(), matching.Result{}); err == nil {
		t.Error("expected timeout error")
	}
}

func TestNewPublisher_NotConnected(t *testing.T) {
	cfg := config.DefaultConfig().MQTT
	cfg.Enabled = true
	p := NewPublisher(cfg)
	defer p.Close()

	if p.Topic(TopicEnrollment) != "facecheckin/enrollment" {
		t.Errorf("unexpected topic %s", p.Topic(TopicEnrollment))
	}
	err := p.StoreTemplate(context.Background(), "alice", enrollment.Template{})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}
