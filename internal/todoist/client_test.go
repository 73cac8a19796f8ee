package todoist

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, status int, body string, logBuf *bytes.Buffer) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "secret", r.PostForm.Get("token"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "secret", "tdb-test", zerolog.New(logBuf))
}

func TestFetchCatalogSkipsMalformedEntries(t *testing.T) {
	var logs bytes.Buffer
	c := newTestClient(t, http.StatusOK, `[
		{"url": "https://example.com/a/backup.zip", "version": "2023-01-01 10:30:00"},
		{"version": "2023-01-02 10:30:00"}
	]`, &logs)

	catalog, err := c.FetchCatalog(context.Background())
	require.NoError(t, err)
	require.Len(t, catalog, 1)
	assert.Equal(t, "2023-01-01_10-30-00_backup.zip", catalog[0].Filename())
	assert.Contains(t, logs.String(), "malformed backup entry")
	assert.Contains(t, logs.String(), `"level":"warn"`)
}

func TestFetchCatalogEmpty(t *testing.T) {
	c := newTestClient(t, http.StatusOK, `[]`, &bytes.Buffer{})
	catalog, err := c.FetchCatalog(context.Background())
	require.NoError(t, err)
	assert.Empty(t, catalog)
}

func TestFetchCatalogNonOKIsFatal(t *testing.T) {
	var logs bytes.Buffer
	c := newTestClient(t, http.StatusInternalServerError, "upstream exploded", &logs)

	catalog, err := c.FetchCatalog(context.Background())
	require.Error(t, err)
	assert.Nil(t, catalog)

	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusInternalServerError, serr.StatusCode)
	assert.Equal(t, "upstream exploded", serr.Body)
	assert.Contains(t, logs.String(), "upstream exploded")
}

func TestFetchCatalogWrongFieldTypes(t *testing.T) {
	c := newTestClient(t, http.StatusOK, `[{"url": 5, "version": "2023-01-01 10:30:00"}, null, 3]`, &bytes.Buffer{})
	catalog, err := c.FetchCatalog(context.Background())
	require.NoError(t, err)
	assert.Empty(t, catalog)
}
