package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// newTestUploader points a storage client at a fake GCS JSON API.
func newTestUploader(t *testing.T, prefix string, handler http.Handler) *Uploader {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	uploader, err := New(client, Config{Bucket: "renec-artifacts", Prefix: prefix})
	require.NoError(t, err)
	return uploader
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}

func TestUploadFilesSkipsMissing(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		names []string
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "ecStandards")
		name := r.URL.Query().Get("name")
		mu.Lock()
		names = append(names, name)
		mu.Unlock()
		fmt.Fprintln(w, `{"name": "`+name+`", "bucket": "renec-artifacts"}`)
	})
	uploader := newTestUploader(t, "runs/latest/", handler)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stats.json"), []byte(`{"ecStandards":1}`), 0o600))

	uris, err := uploader.UploadFiles(context.Background(), dir, []string{"stats.json", "ec_codes.json"})
	require.NoError(t, err)
	assert.Equal(t, []string{"gs://renec-artifacts/runs/latest/stats.json"}, uris)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"runs/latest/stats.json"}, names)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	uploader := newTestUploader(t, "", handler)

	_, err := uploader.PutObject(context.Background(), "stats.json", "application/json", strings.NewReader(`{}`))
	require.Error(t, err)
}

func TestContentTypeFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "application/json", contentTypeFor("stats.json"))
	assert.Equal(t, "text/markdown; charset=utf-8", contentTypeFor("EXTRACTION_REPORT.md"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("blob"))
}
