package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vjranagit/hearth/pkg/issues"
	"github.com/vjranagit/hearth/pkg/storage"
	"github.com/vjranagit/hearth/pkg/types"
)

func newTestServer(t *testing.T) (*Server, storage.Store, *issues.Registry) {
	t.Helper()

	cfg := &storage.Config{
		Path:             t.TempDir(),
		CompressionLevel: 1,
	}
	store, err := storage.NewStore(cfg, nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	registry := issues.NewRegistry()
	return NewServer(":0", store, registry, nil), store, registry
}

func doRequest(t *testing.T, srv *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %q", resp["status"])
	}
}

func TestListIssues(t *testing.T) {
	srv, _, registry := newTestServer(t)

	reports := []issues.Issue{
		{Domain: "demo", ID: "cold_tea", Severity: issues.SeverityWarning, Fixable: true},
		{Domain: "demo", ID: "bad_psu", Severity: issues.SeverityCritical, Fixable: true},
	}
	for _, issue := range reports {
		if err := registry.Report(issue); err != nil {
			t.Fatalf("Failed to report issue: %v", err)
		}
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/issues", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp struct {
		Issues []issues.Issue `json:"issues"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Issues) != 2 {
		t.Fatalf("Expected 2 issues, got %d", len(resp.Issues))
	}
	if resp.Issues[0].ID != "bad_psu" {
		t.Errorf("Expected issues ordered by id, got %q first", resp.Issues[0].ID)
	}
}

func TestDismissIssue(t *testing.T) {
	srv, _, registry := newTestServer(t)

	err := registry.Report(issues.Issue{Domain: "demo", ID: "cold_tea", Severity: issues.SeverityWarning})
	if err != nil {
		t.Fatalf("Failed to report issue: %v", err)
	}

	rec := doRequest(t, srv, http.MethodDelete, "/api/v1/issues/demo/cold_tea", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}
	if registry.Len() != 0 {
		t.Errorf("Expected issue to be dismissed")
	}

	rec = doRequest(t, srv, http.MethodDelete, "/api/v1/issues/demo/cold_tea", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 for a dismissed issue, got %d", rec.Code)
	}
}

func TestListStatistics(t *testing.T) {
	srv, store, _ := newTestServer(t)

	meta := types.Metadata{
		Source:      "demo",
		Name:        "Outdoor temperature",
		StatisticID: "demo:temperature_outdoor",
		Unit:        "°C",
		HasMean:     true,
	}
	if err := store.Ingest(context.Background(), meta, nil); err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/statistics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp struct {
		Statistics []types.Metadata `json:"statistics"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Statistics) != 1 || resp.Statistics[0] != meta {
		t.Errorf("Expected the ingested metadata, got %+v", resp.Statistics)
	}
}

func TestQueryStatistics(t *testing.T) {
	srv, store, _ := newTestServer(t)

	meta := types.Metadata{
		Source:      "demo",
		Name:        "Energy consumption 1",
		StatisticID: "demo:energy_consumption_kwh",
		Unit:        "kWh",
		HasSum:      true,
	}
	start := time.Date(2023, 8, 1, 0, 0, 0, 0, time.UTC)
	points := []types.Point{
		{Start: start, Sum: types.Float64(0.5)},
		{Start: start.Add(1 * time.Hour), Sum: types.Float64(1.0)},
		{Start: start.Add(2 * time.Hour), Sum: types.Float64(1.5)},
	}
	if err := store.Ingest(context.Background(), meta, points); err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}

	target := "/api/v1/statistics/demo:energy_consumption_kwh" +
		"?start=" + start.Format(time.RFC3339) +
		"&end=" + start.Add(2*time.Hour).Format(time.RFC3339)
	rec := doRequest(t, srv, http.MethodGet, target, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp types.Series
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Metadata != meta {
		t.Errorf("Expected metadata in response, got %+v", resp.Metadata)
	}
	// Half-open range: the row at end stays out
	if len(resp.Points) != 2 {
		t.Fatalf("Expected 2 points, got %d", len(resp.Points))
	}
	if resp.Points[0].Sum == nil || *resp.Points[0].Sum != 0.5 {
		t.Errorf("Expected first sum 0.5, got %v", resp.Points[0].Sum)
	}
}

func TestQueryStatisticsErrors(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/v1/statistics/demo:missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown series, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/api/v1/statistics/demo:missing?start=yesterday", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a malformed start time, got %d", rec.Code)
	}
}

func TestIngestStatistics(t *testing.T) {
	srv, store, _ := newTestServer(t)

	start := time.Date(2023, 8, 1, 0, 0, 0, 0, time.UTC)
	series := types.Series{
		Metadata: types.Metadata{
			Source:      "demo",
			Name:        "Gas consumption 1",
			StatisticID: "demo:gas_consumption_m3",
			Unit:        "m³",
			HasSum:      true,
		},
		Points: []types.Point{
			{Start: start, Sum: types.Float64(2.5)},
		},
	}
	body, err := json.Marshal(series)
	if err != nil {
		t.Fatalf("Failed to marshal series: %v", err)
	}

	rec := doRequest(t, srv, http.MethodPost, "/api/v1/statistics/demo:gas_consumption_m3", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	last, err := store.LastValue(context.Background(), series.Metadata.StatisticID)
	if err != nil {
		t.Fatalf("LastValue failed: %v", err)
	}
	if last == nil || *last != 2.5 {
		t.Errorf("Expected ingested sum 2.5 to be recorded, got %v", last)
	}
}

func TestIngestStatisticsErrors(t *testing.T) {
	srv, _, _ := newTestServer(t)

	// Path and body must agree
	series := types.Series{
		Metadata: types.Metadata{
			Source:      "demo",
			StatisticID: "demo:other_series",
			HasSum:      true,
		},
	}
	body, _ := json.Marshal(series)
	rec := doRequest(t, srv, http.MethodPost, "/api/v1/statistics/demo:gas_consumption_m3", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for mismatched ids, got %d", rec.Code)
	}

	// Rows must match the declared columns
	start := time.Date(2023, 8, 1, 0, 0, 0, 0, time.UTC)
	series = types.Series{
		Metadata: types.Metadata{
			Source:      "demo",
			Name:        "Gas consumption 1",
			StatisticID: "demo:gas_consumption_m3",
			Unit:        "m³",
			HasSum:      true,
		},
		Points: []types.Point{
			{Start: start, Mean: types.Float64(1.0)},
		},
	}
	body, _ = json.Marshal(series)
	rec = doRequest(t, srv, http.MethodPost, "/api/v1/statistics/demo:gas_consumption_m3", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for mismatched columns, got %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/api/v1/statistics/demo:gas_consumption_m3", []byte("{not json"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed JSON, got %d", rec.Code)
	}
}
