package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ha1tch/csvgraph/pkg/cache"
	"github.com/ha1tch/csvgraph/pkg/config"
	"github.com/ha1tch/csvgraph/pkg/loader"
	"github.com/ha1tch/csvgraph/pkg/models"
	"github.com/ha1tch/csvgraph/pkg/schema"
	"github.com/ha1tch/csvgraph/pkg/server"
)

// fixedStatus reports a constant progress snapshot
type fixedStatus struct {
	progress loader.Progress
}

func (f fixedStatus) Progress() loader.Progress { return f.progress }

// TestServer holds test server instance and helpers
type TestServer struct {
	ts    *httptest.Server
	cache *cache.MemoryCache
	t     *testing.T
}

// setupTestServer creates a test server over a memory cache
func setupTestServer(t *testing.T, status server.StatusSource) *TestServer {
	memCache := cache.NewMemoryCache(16, time.Hour)
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)

	srv := server.New("localhost:0", status, memCache, schema.Default(), logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &TestServer{ts: ts, cache: memCache, t: t}
}

// doRequest makes a GET request and returns the response and body
func (ts *TestServer) doRequest(path string) (*http.Response, []byte) {
	resp, err := http.Get(ts.ts.URL + path)
	if err != nil {
		ts.t.Fatal(err)
	}
	defer resp.Body.Close()

	body := &bytes.Buffer{}
	body.ReadFrom(resp.Body)
	return resp, body.Bytes()
}

// TestHealthEndpoints tests health and version endpoints
func TestHealthEndpoints(t *testing.T) {
	ts := setupTestServer(t, nil)

	t.Run("GET /health", func(t *testing.T) {
		resp, body := ts.doRequest("/health")
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected 200, got %d", resp.StatusCode)
		}

		var result map[string]interface{}
		if err := json.Unmarshal(body, &result); err != nil {
			t.Fatal(err)
		}
		if result["status"] != "ok" {
			t.Errorf("Expected status ok, got %v", result["status"])
		}
	})

	t.Run("GET /version", func(t *testing.T) {
		resp, body := ts.doRequest("/version")
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected 200, got %d", resp.StatusCode)
		}

		var result map[string]string
		if err := json.Unmarshal(body, &result); err != nil {
			t.Fatal(err)
		}
		if result["version"] != config.Version {
			t.Errorf("Expected version %s, got %s", config.Version, result["version"])
		}
	})
}

func TestStatus(t *testing.T) {
	t.Run("Idle", func(t *testing.T) {
		ts := setupTestServer(t, nil)
		_, body := ts.doRequest("/api/v1/status")

		var p loader.Progress
		if err := json.Unmarshal(body, &p); err != nil {
			t.Fatal(err)
		}
		if p.State != "idle" {
			t.Errorf("Expected idle state, got %s", p.State)
		}
	})

	t.Run("Running", func(t *testing.T) {
		ts := setupTestServer(t, fixedStatus{loader.Progress{
			RunID:       "run-1",
			State:       loader.StateEdgesLoading.String(),
			Table:       "HAS_AIM",
			TablesDone:  9,
			TablesTotal: 24,
			Nodes:       1200,
		}})
		resp, body := ts.doRequest("/api/v1/status")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}

		var p loader.Progress
		if err := json.Unmarshal(body, &p); err != nil {
			t.Fatal(err)
		}
		if p.State != "edges_loading" || p.Table != "HAS_AIM" || p.Nodes != 1200 {
			t.Errorf("Unexpected progress: %+v", p)
		}
	})
}

func TestReport(t *testing.T) {
	ts := setupTestServer(t, nil)

	resp, _ := ts.doRequest("/api/v1/report")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 before any run, got %d", resp.StatusCode)
	}

	report := models.Report{RunID: "run-7", Nodes: 12, Edges: 30, Dangling: 1}
	if err := cache.SetJSON(context.Background(), ts.cache, cache.ReportKey, report, 0); err != nil {
		t.Fatal(err)
	}

	resp, body := ts.doRequest("/api/v1/report")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var got models.Report
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got.RunID != "run-7" || got.Edges != 30 || got.Dangling != 1 {
		t.Errorf("Unexpected report: %+v", got)
	}
}

func TestCatalog(t *testing.T) {
	ts := setupTestServer(t, nil)
	_, body := ts.doRequest("/api/v1/catalog")

	var result struct {
		Nodes []schema.NodeTable `json:"nodes"`
		Edges []schema.EdgeTable `json:"edges"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Nodes) != 9 {
		t.Errorf("Expected 9 node tables, got %d", len(result.Nodes))
	}
	if len(result.Edges) != 15 {
		t.Errorf("Expected 15 edge tables, got %d", len(result.Edges))
	}
}

func TestNotFound(t *testing.T) {
	ts := setupTestServer(t, nil)
	resp, _ := ts.doRequest("/api/v1/entities")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestServe_Shutdown(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	srv := server.New("127.0.0.1:0", nil, nil, nil, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
