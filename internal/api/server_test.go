package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/discovery-swarm/internal/api"
	"github.com/ajitpratap0/discovery-swarm/internal/classifier"
	"github.com/ajitpratap0/discovery-swarm/internal/extraction"
	"github.com/ajitpratap0/discovery-swarm/internal/identity"
	"github.com/ajitpratap0/discovery-swarm/internal/merge"
	"github.com/ajitpratap0/discovery-swarm/internal/models"
	"github.com/ajitpratap0/discovery-swarm/internal/ratelimit"
	"github.com/ajitpratap0/discovery-swarm/internal/source"
	"github.com/ajitpratap0/discovery-swarm/internal/store"
	"github.com/ajitpratap0/discovery-swarm/internal/swarm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// staticAdapter returns the same records for every query, blocking on gate when set.
type staticAdapter struct {
	st   models.SourceType
	raws []models.CandidateRaw
	gate chan struct{}
}

func (a *staticAdapter) Type() models.SourceType { return a.st }

func (a *staticAdapter) Search(context.Context, string, source.Options) ([]models.CandidateRaw, error) {
	if a.gate != nil {
		<-a.gate
	}
	out := make([]models.CandidateRaw, len(a.raws))
	copy(out, a.raws)
	return out, nil
}

func (a *staticAdapter) Extract(context.Context, string) (*models.CandidateRaw, error) {
	return nil, nil
}

type fixture struct {
	ts    *httptest.Server
	merge *merge.Store
	ctl   *swarm.Controller
}

func newFixture(t *testing.T, authToken string, adapter *staticAdapter) *fixture {
	t.Helper()
	logger := testLogger()
	m := merge.New(store.NewMemoryStore(), classifier.NewClassifier(classifier.DefaultPolicy(), logger), logger)
	set, err := source.NewSet(adapter)
	require.NoError(t, err)
	orch := swarm.New(swarm.Deps{
		Adapters: set,
		Limiter:  ratelimit.New(nil, logger),
		Engine:   extraction.NewEngine(extraction.DefaultConfig(), logger),
		Resolver: identity.NewResolver(m, 0),
		Merge:    m,
	}, swarm.DefaultConfig(), logger)
	ctl := swarm.NewController(orch, logger)

	srv := api.NewServer(m, ctl, swarm.RunConfig{Industries: []string{"construction"}}, logger, authToken)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{ts: ts, merge: m, ctl: ctl}
}

func eagle() models.CandidateRaw {
	return models.CandidateRaw{
		SourceRef:   "https://eaglefeather.ca",
		Name:        "Eagle Feather Enterprises Ltd.",
		Description: "Indigenous-owned supplier",
		Province:    "ON",
	}
}

func doRequest(t *testing.T, method, url string, body any, token string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// runToCompletion starts a run over the API and waits for it to finish.
func runToCompletion(t *testing.T, f *fixture, token string) swarm.RunReport {
	t.Helper()
	resp := doRequest(t, http.MethodPost, f.ts.URL+"/v1/runs", nil, token)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	started := decodeBody[swarm.RunReport](t, resp)
	require.NotEmpty(t, started.RunID)

	run := f.ctl.Current()
	require.NotNil(t, run)
	rep, err := run.Wait()
	require.NoError(t, err)
	return *rep
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, "secret", &staticAdapter{st: models.SourceWeb})
	resp := doRequest(t, http.MethodGet, f.ts.URL+"/healthz", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth(t *testing.T) {
	f := newFixture(t, "secret", &staticAdapter{st: models.SourceWeb})

	resp := doRequest(t, http.MethodGet, f.ts.URL+"/v1/stats", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, f.ts.URL+"/v1/stats", nil, "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, f.ts.URL+"/v1/stats", nil, "secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, f.ts.URL+"/debug/vars", nil, "secret")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRunThenRead(t *testing.T) {
	f := newFixture(t, "", &staticAdapter{st: models.SourceWeb, raws: []models.CandidateRaw{eagle()}})

	rep := runToCompletion(t, f, "")
	assert.Equal(t, swarm.StateComplete, rep.State)
	assert.Equal(t, int64(1), rep.Created)

	resp := doRequest(t, http.MethodGet, f.ts.URL+"/v1/runs/current", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cur := decodeBody[swarm.RunReport](t, resp)
	assert.Equal(t, rep.RunID, cur.RunID)

	resp = doRequest(t, http.MethodGet, f.ts.URL+"/v1/stats", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeBody[models.Statistics](t, resp)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.ByLocation["ON"])

	resp = doRequest(t, http.MethodGet, f.ts.URL+"/v1/businesses?province=on&type=indigenous_owned", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[struct {
		Businesses []models.DiscoveredBusiness `json:"businesses"`
		Count      int                         `json:"count"`
	}](t, resp)
	require.Equal(t, 1, list.Count)
	id := list.Businesses[0].ID

	resp = doRequest(t, http.MethodGet, f.ts.URL+"/v1/businesses/"+id, nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b := decodeBody[models.DiscoveredBusiness](t, resp)
	assert.Equal(t, "Eagle Feather Enterprises Ltd.", b.Name)
	assert.Equal(t, models.VerificationUnverified, b.VerificationStatus)

	resp = doRequest(t, http.MethodPut, f.ts.URL+"/v1/businesses/"+id+"/verification",
		map[string]string{"status": "verified"}, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b = decodeBody[models.DiscoveredBusiness](t, resp)
	assert.Equal(t, models.VerificationVerified, b.VerificationStatus)

	resp = doRequest(t, http.MethodGet, f.ts.URL+"/v1/businesses?type=compliance_ready", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	empty := decodeBody[struct {
		Businesses []models.DiscoveredBusiness `json:"businesses"`
	}](t, resp)
	assert.Empty(t, empty.Businesses)
}

func TestBusinessErrors(t *testing.T) {
	f := newFixture(t, "", &staticAdapter{st: models.SourceWeb})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown business", http.MethodGet, "/v1/businesses/nope-on", nil, http.StatusNotFound},
		{"bad type filter", http.MethodGet, "/v1/businesses?type=bogus", nil, http.StatusBadRequest},
		{"bad source filter", http.MethodGet, "/v1/businesses?source=fax", nil, http.StatusBadRequest},
		{"bad province filter", http.MethodGet, "/v1/businesses?province=ZZ", nil, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/v1/businesses?limit=-1", nil, http.StatusBadRequest},
		{"confidence above 100", http.MethodGet, "/v1/businesses?min_confidence=101", nil, http.StatusBadRequest},
		{"bad verification status", http.MethodPut, "/v1/businesses/x/verification", map[string]string{"status": "approved"}, http.StatusBadRequest},
		{"verify unknown business", http.MethodPut, "/v1/businesses/x/verification", map[string]string{"status": "pending"}, http.StatusNotFound},
		{"no run yet", http.MethodGet, "/v1/runs/current", nil, http.StatusNotFound},
		{"stop without run", http.MethodPost, "/v1/runs/current/stop", nil, http.StatusConflict},
		{"invalid run body", http.MethodPost, "/v1/runs", "not an object", http.StatusBadRequest},
		{"empty plan", http.MethodPost, "/v1/runs", map[string]any{"industries": []string{}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, tt.method, f.ts.URL+tt.path, tt.body, "")
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestRunInProgressAndStop(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, "", &staticAdapter{st: models.SourceWeb, gate: gate})

	resp := doRequest(t, http.MethodPost, f.ts.URL+"/v1/runs", nil, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, f.ts.URL+"/v1/runs", nil, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, f.ts.URL+"/v1/runs/current/stop", nil, "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	close(gate)

	run := f.ctl.Current()
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
	assert.Equal(t, swarm.StateAborted, run.State())
}

func TestRunsDisabled(t *testing.T) {
	logger := testLogger()
	m := merge.New(store.NewMemoryStore(), classifier.NewClassifier(classifier.DefaultPolicy(), logger), logger)
	ts := httptest.NewServer(api.NewServer(m, nil, swarm.RunConfig{}, logger, "").Handler())
	t.Cleanup(ts.Close)

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/runs", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
