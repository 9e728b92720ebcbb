package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildcache/internal/core"
)

type fakeFinder struct {
	records map[string]*core.CacheRecord
	err     error
}

func (f *fakeFinder) Find(_ context.Context, key core.ProjectKey, sum core.Checksum) (*core.CacheRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records[key.String()+"/"+sum.String()], nil
}

func newTestServer(t *testing.T, finder RecordFinder) *httptest.Server {
	t.Helper()
	srv := NewServer(":0", finder, prometheus.NewRegistry(), nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, &fakeFinder{})

	status, body := get(t, ts.URL+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestGetRecord(t *testing.T) {
	key := core.ProjectKey{GroupID: "org.example", ArtifactID: "app", Version: "1.0"}
	rec := &core.CacheRecord{
		Project:         key,
		Checksum:        "0123456789abcdef",
		HighestPhase:    "package",
		PrimaryArtifact: &core.ArtifactRef{Path: "target/app.jar", Digest: "feedfacefeedface", Size: 3, Phase: "package"},
	}
	ts := newTestServer(t, &fakeFinder{records: map[string]*core.CacheRecord{
		"org.example:app:1.0/0123456789abcdef": rec,
	}})

	status, body := get(t, ts.URL+"/api/v1/records/org.example/app/1.0/0123456789abcdef")
	require.Equal(t, http.StatusOK, status)
	var got core.CacheRecord
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, key, got.Project)
	assert.Equal(t, "package", string(got.HighestPhase))
	require.NotNil(t, got.PrimaryArtifact)
	assert.Equal(t, "target/app.jar", got.PrimaryArtifact.Path)

	status, _ = get(t, ts.URL+"/api/v1/records/org.example/app/1.0/ffffffffffffffff")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = get(t, ts.URL+"/api/v1/records/org.example/app/../0123456789abcdef")
	assert.NotEqual(t, http.StatusOK, status)
}

func TestGetRecord_StoreError(t *testing.T) {
	ts := newTestServer(t, &fakeFinder{err: errors.New("disk on fire")})

	status, body := get(t, ts.URL+"/api/v1/records/org.example/app/1.0/0123456789abcdef")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.NotContains(t, string(body), "disk on fire")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	core.NewMetrics(reg)
	srv := NewServer(":0", &fakeFinder{}, reg, nil)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	get(t, ts.URL+"/healthz")

	status, body := get(t, ts.URL+"/metrics")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `buildcache_http_requests_total{method="GET",path="/healthz",status="200"} 1`)
	assert.Contains(t, string(body), "buildcache_engine_restored_files_total 0")
}
