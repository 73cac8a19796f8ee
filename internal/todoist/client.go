package todoist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const maxErrorBody = 64 * 1024

// StatusError is returned when the catalog endpoint answers with anything but
// 200. It is fatal for the whole run.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("todoist API request unsuccessful, status code %d", e.StatusCode)
}

type Client struct {
	APIURL    string
	Token     string
	UserAgent string
	HTTP      *http.Client
	Log       zerolog.Logger
}

func NewClient(apiURL, token, userAgent string, log zerolog.Logger) *Client {
	return &Client{
		APIURL:    apiURL,
		Token:     token,
		UserAgent: userAgent,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		Log:       log,
	}
}

type entry struct {
	URL     *string `json:"url"`
	Version *string `json:"version"`
}

// FetchCatalog posts the token to the backups endpoint and returns the valid
// entries. Malformed entries are skipped with a warning.
func (c *Client) FetchCatalog(ctx context.Context) (Catalog, error) {
	form := url.Values{"token": {c.Token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request backup list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		serr := &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		c.Log.Error().Int("status", serr.StatusCode).Str("body", serr.Body).Msg("todoist API request unsuccessful")
		return nil, serr
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode backup list: %w", err)
	}
	return c.parseEntries(raw), nil
}

func (c *Client) parseEntries(raw []json.RawMessage) Catalog {
	catalog := make(Catalog, 0, len(raw))
	for i, item := range raw {
		var e entry
		if err := json.Unmarshal(item, &e); err != nil {
			c.Log.Warn().Int("index", i).RawJSON("entry", item).Err(err).Msg("malformed backup entry")
			continue
		}
		if e.URL == nil || e.Version == nil {
			c.Log.Warn().Int("index", i).RawJSON("entry", item).Msg("malformed backup entry: url and version are required")
			continue
		}
		backup, err := NewBackup(*e.Version, *e.URL)
		if err != nil {
			c.Log.Warn().Int("index", i).RawJSON("entry", item).Err(err).Msg("malformed backup entry")
			continue
		}
		catalog = append(catalog, backup)
	}
	return catalog
}
