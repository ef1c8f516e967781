package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gotarr/sbmirror/internal/config"
)

func sampleEvent() Event {
	return Event{
		Type:     "sync",
		Status:   "ok",
		Manifest: "Your_apps.json",
		Total:    10,
		ToUpdate: 2,
		UpToDate: 8,
	}
}

func TestWebhookPostsJSON(t *testing.T) {
	var got Event
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
	}))
	defer server.Close()

	hook := Webhook{
		Name:    "ops",
		URL:     server.URL,
		Headers: map[string]string{"Authorization": "Bearer token"},
		Client:  server.Client(),
	}
	if err := hook.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.Total != 10 || got.Status != "ok" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if auth != "Bearer token" {
		t.Fatalf("custom header not sent: %q", auth)
	}
}

func TestWebhookRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	hook := Webhook{Name: "ops", URL: server.URL, Client: server.Client()}
	if err := hook.Notify(context.Background(), sampleEvent()); err == nil {
		t.Fatalf("expected error for non-2xx response")
	}
}

func TestMattermostMessage(t *testing.T) {
	var text string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]string
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("unmarshal: %v", err)
		}
		text = payload["text"]
	}))
	defer server.Close()

	mm := Mattermost{Name: "chat", URL: server.URL, Client: server.Client()}
	event := sampleEvent()
	event.Errors = 1
	event.Error = "one lookup failed"
	if err := mm.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	for _, want := range []string{"Your_apps.json", "10 total", "1 errors", "one lookup failed"} {
		if !strings.Contains(text, want) {
			t.Fatalf("message missing %q: %s", want, text)
		}
	}
}

func TestMultiContinuesPastFailure(t *testing.T) {
	var secondHit bool
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()
	working := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondHit = true
	}))
	defer working.Close()

	multi := Multi{Targets: []Notifier{
		Webhook{Name: "bad", URL: failing.URL, Client: failing.Client()},
		Webhook{Name: "good", URL: working.URL, Client: working.Client()},
	}}
	if err := multi.Notify(context.Background(), sampleEvent()); err == nil {
		t.Fatalf("expected the failing target's error")
	}
	if !secondHit {
		t.Fatalf("remaining targets must still be notified")
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.NotificationsConfig{
		Webhooks:   []config.WebhookConfig{{Name: "a", URL: "http://example.invalid/a"}},
		Mattermost: []config.MattermostHook{{Name: "b", URL: "http://example.invalid/b"}},
	}
	multi := FromConfig(cfg, http.DefaultClient)
	if len(multi.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(multi.Targets))
	}
}
