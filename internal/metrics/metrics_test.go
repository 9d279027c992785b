package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/zhouzirui/mood-coach/backend/internal/errs"
)

func TestRecordState(t *testing.T) {
	m := New()
	m.RecordState("sse", "completed")
	m.RecordState("sse", "completed")
	m.RecordState("buffered", "failed")

	if got := testutil.ToFloat64(m.requests.WithLabelValues("sse", "completed")); got != 2 {
		t.Fatalf("expected 2 completed sse requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("buffered", "failed")); got != 1 {
		t.Fatalf("expected 1 failed buffered request, got %v", got)
	}
}

func TestGauges(t *testing.T) {
	m := New()
	m.StreamStarted()
	m.StreamStarted()
	m.StreamFinished()
	m.SetPollBuffers(4)

	if got := testutil.ToFloat64(m.activeStreams); got != 1 {
		t.Fatalf("unexpected active streams %v", got)
	}
	if got := testutil.ToFloat64(m.pollBuffers); got != 4 {
		t.Fatalf("unexpected poll buffers %v", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.RecordState("ws", "received")
	m.ObserveUpstream("stream", 120*time.Millisecond, nil)
	m.ObserveUpstream("buffered", time.Second, errs.UpstreamTimeout(errors.New("deadline")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		`relay_requests_total{state="received",transport="ws"} 1`,
		`relay_upstream_duration_seconds_count{mode="stream",outcome="ok"} 1`,
		`relay_upstream_duration_seconds_count{mode="buffered",outcome="upstream_timeout"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordState("sse", "completed")
	m.ObserveUpstream("stream", time.Second, nil)
	m.StreamStarted()
	m.StreamFinished()
	m.SetPollBuffers(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("expected 404 from nil metrics, got %d", rec.Code)
	}
}
