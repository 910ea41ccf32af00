package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	xerrors "github.com/McKrispy/Ageeeent/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }
func (r *recordingNotifier) Notify(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return r.err
}

func TestFanoutDeliversToAllChannels(t *testing.T) {
	a := &recordingNotifier{channel: "a"}
	b := &recordingNotifier{channel: "b", err: errors.New("down")}
	d := NewFanout(a, nil, b, LogNotifier{})

	if diff := cmp.Diff([]Channel{"a", "b", ChannelLog}, d.Channels()); diff != "" {
		t.Fatalf("channels mismatch (-want +got):\n%s", diff)
	}
	err := d.Notify(context.Background(), Event{Code: xerrors.CodeTimeout, SessionID: "s"})
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both notifiers to receive event")
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %s", r.Header.Get("Content-Type"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	event := Event{
		Code:       "PLANNING_UNAVAILABLE",
		Message:    "planner down",
		Severity:   xerrors.SeverityWarning,
		SessionID:  "s1",
		Metadata:   map[string]string{"stage": "retry"},
		OccurredAt: time.Unix(1700000000, 0).UTC(),
	}
	if err := NewWebhookNotifier(srv.URL).Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if diff := cmp.Diff(event, got); diff != "" {
		t.Fatalf("event mismatch (-want +got):\n%s", diff)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	if err := NewWebhookNotifier(failing.URL).Notify(context.Background(), event); err == nil {
		t.Fatal("expected error for 500 response")
	}
}
