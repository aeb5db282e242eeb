package extractor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/renec-harvester/internal/fetcher"
	collyfetcher "github.com/JakeFAU/renec-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/renec-harvester/internal/renec"
)

// upstream serves a two-standard index and the matching descriptions.
type upstream struct {
	mu      sync.Mutex
	titles  map[string]string
	details atomic.Int64
}

func newUpstream(t *testing.T) (*upstream, string) {
	t.Helper()
	u := &upstream{titles: map[string]string{"EC0001": "Atención a comensales", "EC0002": "Impartición de cursos"}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sectoresProductivos/getEstandaresAll", func(w http.ResponseWriter, _ *http.Request) {
		u.mu.Lock()
		defer u.mu.Unlock()
		_, _ = io.WriteString(w, `{"responseStatus":200,"results":[`+
			`{"codigo":"EC0001","titulo":"`+u.titles["EC0001"]+`"},`+
			`{"codigo":"EC0002","titulo":"`+u.titles["EC0002"]+`"}]}`)
	})
	mux.HandleFunc("POST /sectoresProductivos/getDescEstandar/{code}", func(w http.ResponseWriter, r *http.Request) {
		u.details.Add(1)
		code := r.PathValue("code")
		u.mu.Lock()
		title := u.titles[code]
		u.mu.Unlock()
		_, _ = io.WriteString(w, `{"responseStatus":200,"results":{"codigo":"`+code+`","titulo":"`+title+`",`+
			`"certificadores":[{"nombre":"Entidad Uno","tipo":"ECE","entidadFederativa":"Jalisco"}],`+
			`"harvestedAt":"`+time.Now().Format(time.RFC3339Nano)+`"}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return u, srv.URL
}

func (u *upstream) retitle(code, title string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.titles[code] = title
}

func TestIncrementalRunAgainstUnchangedUpstreamFetchesNothing(t *testing.T) {
	t.Parallel()

	up, baseURL := newUpstream(t)
	client := collyfetcher.New(collyfetcher.Config{BaseURL: baseURL, Timeout: 2 * time.Second, DetectChanges: true})
	stack := fetcher.NewStack(client, nil, fetcher.NewRetryPolicy(0), nil)

	h := newHarness()
	deps := h.deps(stack)
	deps.Fetcher = stack
	orch, err := New(Options{BatchSize: 10, SkipCommittees: true}, deps)
	require.NoError(t, err)

	_, err = orch.Run(context.Background(), renec.ModeFull)
	require.NoError(t, err)
	require.EqualValues(t, 2, up.details.Load())

	summary, err := orch.Run(context.Background(), renec.ModeIncremental)
	require.NoError(t, err)
	assert.EqualValues(t, 2, up.details.Load(), "unchanged standards must not be refetched")
	require.Len(t, summary.Stages, 1)
	assert.Zero(t, summary.Stages[0].Total)

	up.retitle("EC0002", "Impartición de cursos presenciales")
	summary, err = orch.Run(context.Background(), renec.ModeIncremental)
	require.NoError(t, err)
	assert.EqualValues(t, 3, up.details.Load())
	require.Len(t, summary.Stages, 1)
	assert.Equal(t, 1, summary.Stages[0].Succeeded)

	corpus, err := h.corpus.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, corpus.Standards, 2)
	assert.True(t, strings.HasSuffix(corpus.Standards[1].Title, "presenciales"))
}
