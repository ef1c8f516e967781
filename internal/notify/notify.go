// Package notify posts run summaries to configured hooks after a sync
// pass. Failures are reported but never affect the pass outcome.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gotarr/sbmirror/internal/config"
)

// Event is one completed sync pass.
type Event struct {
	Type         string    `json:"type"`
	Status       string    `json:"status"`
	Manifest     string    `json:"manifest"`
	Total        int       `json:"total"`
	ToUpdate     int       `json:"to_update"`
	UpToDate     int       `json:"up_to_date"`
	Errors       int       `json:"errors"`
	MissingFiles int       `json:"missing_files"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	Duration     string    `json:"duration"`
	Error        string    `json:"error,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type Multi struct {
	Targets []Notifier
}

func (m Multi) Notify(ctx context.Context, event Event) error {
	var err error
	for _, target := range m.Targets {
		if target == nil {
			continue
		}
		if nerr := target.Notify(ctx, event); nerr != nil {
			err = nerr
		}
	}
	return err
}

type Webhook struct {
	Name    string
	URL     string
	Headers map[string]string
	Client  *http.Client
}

func (w Webhook) Notify(ctx context.Context, event Event) error {
	body, _ := json.Marshal(event)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}
	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned %s", w.Name, resp.Status)
	}
	return nil
}

type Mattermost struct {
	Name   string
	URL    string
	Client *http.Client
}

func (m Mattermost) Notify(ctx context.Context, event Event) error {
	text := fmt.Sprintf("[%s] sync of %s: %d total, %d updated, %d up-to-date, %d errors",
		event.Status, event.Manifest, event.Total, event.ToUpdate, event.UpToDate, event.Errors)
	if event.Error != "" {
		text += " (" + event.Error + ")"
	}
	payload := map[string]string{"text": text}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mattermost %s returned %s", m.Name, resp.Status)
	}
	return nil
}

// FromConfig builds the notifier set. The HTTP client is injected like
// every other transport in the tool.
func FromConfig(cfg config.NotificationsConfig, client *http.Client) Multi {
	var targets []Notifier
	for _, w := range cfg.Webhooks {
		targets = append(targets, Webhook{Name: w.Name, URL: w.URL, Headers: w.Headers, Client: client})
	}
	for _, mm := range cfg.Mattermost {
		targets = append(targets, Mattermost{Name: mm.Name, URL: mm.URL, Client: client})
	}
	return Multi{Targets: targets}
}
