package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordGoal(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordGoal("build", "success", 3*time.Second)
	m.RecordGoal("build", "success", time.Second)
	m.RecordGoal("build", "failure", time.Second)

	if got := testutil.ToFloat64(m.GoalExecutions.WithLabelValues("build", "success")); got != 2 {
		t.Errorf("expected 2 successful executions, got %v", got)
	}
	if got := testutil.CollectAndCount(m.GoalDuration); got != 1 {
		t.Errorf("expected 1 duration series, got %d", got)
	}
}

func TestRecordLogFlush(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordLogFlush("remote", false, 512)
	m.RecordLogFlush("remote", true, 0)

	if got := testutil.ToFloat64(m.LogFlushes.WithLabelValues("remote", "failure")); got != 1 {
		t.Errorf("expected 1 failed flush, got %v", got)
	}
	if got := testutil.ToFloat64(m.LogPendingBytes.WithLabelValues("remote")); got != 0 {
		t.Errorf("expected pending bytes reset to 0, got %v", got)
	}
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.RecordGoal("build", "success", time.Second)
	m.RecordHook("pre", "skipped")
	m.RecordListener("slack", "success", true)
	m.RecordContainerLaunch("primary", true)
	m.RecordContainerJob("maven", time.Second)
	m.RecordImagePull(true)
	m.RecordLogFlush("remote", true, 0)
	m.RecordCache("file", "put", "success")
	m.RecordStatusUpdate("success", true)
	m.RecordError("GOAL-001")
}

func TestHandlerFor(t *testing.T) {
	reg, m := NewRegistry()
	m.RecordContainerLaunch("sidecar", false)
	m.RecordError("CONTAINER-004")

	server := httptest.NewServer(HandlerFor(reg, promhttp.HandlerOpts{}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("failed to scrape: %v", err)
	}
	defer resp.Body.Close()

	buf := new(strings.Builder)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	for _, want := range []string{
		`goalrun_container_launches_total{result="failure",role="sidecar"} 1`,
		`goalrun_errors_total{code="CONTAINER-004"} 1`,
	} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("expected %q in scrape output", want)
		}
	}
}
