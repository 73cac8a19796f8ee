package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rowjay/todoist-backup/internal/config"
)

// Event summarizes one pipeline run.
type Event struct {
	Type         string    `json:"type"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	Duration     string    `json:"duration"`
	Catalog      int       `json:"catalog"`
	Downloaded   int       `json:"downloaded"`
	Skipped      int       `json:"skipped"`
	Failed       int       `json:"failed"`
	Archived     int       `json:"archived"`
	Recompressed int       `json:"recompressed"`
	Mirrored     int       `json:"mirrored"`
	BytesSaved   int64     `json:"bytes_saved"`
	Error        string    `json:"error,omitempty"`
}

// Summary is the one-line text used by chat targets.
func (e Event) Summary() string {
	if e.Error != "" {
		return fmt.Sprintf("[%s] todoist backup %s: %s", e.Status, e.Type, e.Error)
	}
	saved := humanize.Bytes(uint64(max(e.BytesSaved, 0)))
	return fmt.Sprintf("[%s] todoist backup %s: %d in catalog, %d downloaded, %d archived, %d recompressed (%s saved), %d mirrored, %d failed",
		e.Status, e.Type, e.Catalog, e.Downloaded, e.Archived, e.Recompressed, saved, e.Mirrored, e.Failed)
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
}

func (w Webhook) Notify(ctx context.Context, event Event) error {
	return post(ctx, "webhook "+w.Name, w.URL, w.Headers, event)
}

type Mattermost struct {
	Name string
	URL  string
}

func (m Mattermost) Notify(ctx context.Context, event Event) error {
	return post(ctx, "mattermost "+m.Name, m.URL, nil, map[string]string{"text": event.Summary()})
}

type Matrix struct {
	Name        string
	ServerURL   string
	AccessToken string
	RoomID      string
}

func (m Matrix) Notify(ctx context.Context, event Event) error {
	endpoint := fmt.Sprintf("%s/_matrix/client/v3/rooms/%s/send/m.room.message/%d", m.ServerURL, url.PathEscape(m.RoomID), time.Now().UnixNano())
	payload := map[string]any{
		"msgtype": "m.text",
		"body":    event.Summary(),
	}
	return post(ctx, "matrix "+m.Name, endpoint, map[string]string{"Authorization": "Bearer " + m.AccessToken}, payload)
}

func post(ctx context.Context, target, endpoint string, headers map[string]string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned %s", target, resp.Status)
	}
	return nil
}

func FromConfig(cfg config.NotificationsConfig) Multi {
	var targets []Notifier
	for _, w := range cfg.Webhooks {
		targets = append(targets, Webhook{Name: w.Name, URL: w.URL, Headers: w.Headers})
	}
	for _, mm := range cfg.Mattermost {
		targets = append(targets, Mattermost{Name: mm.Name, URL: mm.URL})
	}
	for _, mx := range cfg.Matrix {
		targets = append(targets, Matrix{Name: mx.Name, ServerURL: mx.ServerURL, AccessToken: mx.AccessToken, RoomID: mx.RoomID})
	}
	return Multi{Targets: targets}
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
