package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fusekv/fusekv/internal/store"
	kverrors "github.com/fusekv/fusekv/pkg/errors"
)

type fakeHealth struct {
	stats store.Stats
}

func (f fakeHealth) Stats() store.Stats { return f.stats }

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(&Config{Enabled: true, Address: "127.0.0.1:0"}, nil, nil)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	return c
}

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("defaults path and namespace", func(t *testing.T) {
		c := newTestCollector(t)
		if c.config.Path != "/metrics" {
			t.Errorf("Path = %q, want /metrics", c.config.Path)
		}
		if c.config.Namespace != "fusekv" {
			t.Errorf("Namespace = %q, want fusekv", c.config.Namespace)
		}
		if c.registry == nil {
			t.Error("registry is nil")
		}
	})

	t.Run("nil config", func(t *testing.T) {
		c, err := NewCollector(nil, nil, nil)
		if err != nil {
			t.Fatalf("NewCollector(nil) error = %v", err)
		}
		if !c.Enabled() {
			t.Error("default collector should be enabled")
		}
	})

	t.Run("disabled", func(t *testing.T) {
		c, err := NewCollector(&Config{Enabled: false}, nil, nil)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}
		if c.registry != nil {
			t.Error("disabled collector should not create a registry")
		}

		// Observations are accepted and dropped.
		c.OperationCompleted("read", nil, time.Millisecond)
		c.BytesTransferred("read", 10)
		c.StoreStateChanged(store.StateConnected)
		c.StoreFailover()
		c.ListingTruncated()
		c.RawCommand("ok")
		if len(c.GetOperations()) != 0 {
			t.Error("disabled collector recorded operations")
		}
		if err := c.Start(context.Background()); err != nil {
			t.Errorf("Start() on disabled collector error = %v", err)
		}
	})
}

func TestOperationMetrics(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	c.OperationCompleted("read", nil, 2*time.Millisecond)
	c.OperationCompleted("read", nil, 4*time.Millisecond)
	c.OperationCompleted("read", kverrors.NotFound("/kv/x"), time.Millisecond)
	c.OperationCompleted("unlink", kverrors.ReadOnly("/kv/x"), time.Millisecond)

	ops := c.GetOperations()
	read, ok := ops["read"]
	if !ok {
		t.Fatal("read operation not tracked")
	}
	if read.Count != 3 || read.Errors != 1 {
		t.Errorf("read = %+v, want count 3 errors 1", read)
	}
	if read.AvgDuration != (7*time.Millisecond)/3 {
		t.Errorf("AvgDuration = %v", read.AvgDuration)
	}

	body := scrape(t, c)
	for _, want := range []string{
		`fusekv_operations_total{operation="read",result="ok"} 2`,
		`fusekv_operations_total{operation="read",result="not_found"} 1`,
		`fusekv_operations_total{operation="unlink",result="read_only"} 1`,
		`fusekv_operation_duration_seconds_count{operation="read"} 3`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}

	c.ResetMetrics()
	if len(c.GetOperations()) != 0 {
		t.Error("ResetMetrics() left operations behind")
	}
}

func TestObserverCounters(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	c.BytesTransferred("read", 100)
	c.BytesTransferred("write", 7)
	c.BytesTransferred("write", 0)
	c.StoreFailover()
	c.StoreFailover()
	c.ListingTruncated()
	c.RawCommand("ok")
	c.RawCommand("error")
	c.RawCommand("ok")

	body := scrape(t, c)
	for _, want := range []string{
		`fusekv_bytes_total{direction="read"} 100`,
		`fusekv_bytes_total{direction="write"} 7`,
		`fusekv_store_failovers_total 2`,
		`fusekv_listing_truncated_total 1`,
		`fusekv_raw_commands_total{result="ok"} 2`,
		`fusekv_raw_commands_total{result="error"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestStoreStateGauge(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	c.StoreStateChanged(store.StateConnecting)
	c.StoreStateChanged(store.StateConnected)

	body := scrape(t, c)
	for _, want := range []string{
		`fusekv_store_state{state="connected"} 1`,
		`fusekv_store_state{state="connecting"} 0`,
		`fusekv_store_state{state="disconnected"} 0`,
		`fusekv_store_state{state="failover_in_progress"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		source HealthSource
		code   int
		status string
	}{
		{"no source", nil, http.StatusServiceUnavailable, "unknown"},
		{"connected", fakeHealth{store.Stats{State: "connected", Connected: true, Master: "127.0.0.1:6379"}}, http.StatusOK, "healthy"},
		{"disconnected", fakeHealth{store.Stats{State: "disconnected"}}, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCollector(t)
			if tt.source != nil {
				c.SetHealthSource(tt.source)
			}

			rec := httptest.NewRecorder()
			c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rec.Code != tt.code {
				t.Errorf("status = %d, want %d", rec.Code, tt.code)
			}

			var resp healthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode health response: %v", err)
			}
			if resp.Status != tt.status {
				t.Errorf("status field = %q, want %q", resp.Status, tt.status)
			}
		})
	}
}

func TestDebugOperationsHandler(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/operations", nil))
	if !strings.Contains(rec.Body.String(), "No operations recorded.") {
		t.Errorf("empty summary = %q", rec.Body.String())
	}

	c.OperationCompleted("getattr", nil, time.Millisecond)
	c.OperationCompleted("write", nil, time.Millisecond)

	rec = httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/operations", nil))
	body := rec.Body.String()
	if strings.Index(body, "getattr") > strings.Index(body, "write") {
		t.Errorf("operations not sorted:\n%s", body)
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestStartAddressInUse(t *testing.T) {
	t.Parallel()

	busy := httptest.NewServer(http.NotFoundHandler())
	defer busy.Close()

	c, err := NewCollector(&Config{Enabled: true, Address: strings.TrimPrefix(busy.URL, "http://")}, nil, nil)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	if err := c.Start(context.Background()); err == nil {
		_ = c.Stop(context.Background())
		t.Fatal("Start() on a bound address should fail")
	}
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	if err := c.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}
