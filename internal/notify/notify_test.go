package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/todoist-backup/internal/config"
)

func TestWebhookAndMattermostPayloads(t *testing.T) {
	var gotEvent Event
	var gotText map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/hook":
			assert.Equal(t, "yes", r.Header.Get("X-Test"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotEvent))
		case "/mm":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotText))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	n := FromConfig(config.NotificationsConfig{
		Webhooks:   []config.WebhookConfig{{Name: "w", URL: srv.URL + "/hook", Headers: map[string]string{"X-Test": "yes"}}},
		Mattermost: []config.MattermostHook{{Name: "m", URL: srv.URL + "/mm"}},
	})
	event := Event{Type: "run", Status: "success", Catalog: 3, Downloaded: 1, Archived: 2, Recompressed: 2, BytesSaved: 2048}
	require.NoError(t, n.Notify(context.Background(), event))

	assert.Equal(t, 3, gotEvent.Catalog)
	assert.Contains(t, gotText["text"], "1 downloaded")
	assert.Contains(t, gotText["text"], "2.0 kB saved")
}

func TestMultiReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := Multi{Targets: []Notifier{nil, Webhook{Name: "down", URL: srv.URL}}}
	err := n.Notify(context.Background(), Event{Type: "run", Status: "failed", Error: "boom"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook down")
}

func TestSummaryWithError(t *testing.T) {
	s := Event{Type: "run", Status: "failed", Error: "status 500"}.Summary()
	assert.Equal(t, "[failed] todoist backup run: status 500", s)
}
