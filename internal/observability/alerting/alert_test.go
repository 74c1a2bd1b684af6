package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "Orchestra-Engine/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	a := &recordingNotifier{channel: "a"}
	b := &recordingNotifier{channel: "b", err: errors.New("down")}
	d := NewFanout(a, nil, b)

	err := d.Notify(context.Background(), Event{Code: "X", OrchestrationID: "o-1"})
	if err == nil {
		t.Fatalf("expected joined error from failing channel")
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("both notifiers should receive the event")
	}
	if a.events[0].Channel != "a" || b.events[0].Channel != "b" {
		t.Fatalf("event channel not routed: %+v %+v", a.events[0], b.events[0])
	}
	if got := d.Channels(); len(got) != 2 || got[0] != "a" {
		t.Fatalf("channels = %v", got)
	}
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	event := Event{
		Code:            "ORCH_TASK_EXECUTION",
		Severity:        xerrors.SeverityWarning,
		OrchestrationID: "o-9",
		LevelID:         "fanout",
		TaskIndex:       3,
		OccurredAt:      time.Now(),
	}
	if err := n.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received.OrchestrationID != "o-9" || received.TaskIndex != 3 {
		t.Fatalf("unexpected payload: %+v", received)
	}
}

func TestWebhookNotifierReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	n := &WebhookNotifier{URL: srv.URL}
	if err := n.Notify(context.Background(), Event{}); err == nil {
		t.Fatalf("expected error for 502 response")
	}
}
