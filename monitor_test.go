package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/Tutortoise/face-overlay/models"
	"github.com/Tutortoise/face-overlay/pipeline"
)

func newTestRouter(stats *pipeline.Stats) *mux.Router {
	m := &monitor{stats: stats, started: time.Now()}
	r := mux.NewRouter()
	m.addMonitoringRoutes(r)
	return r
}

func TestHandleMetrics(t *testing.T) {
	stats := pipeline.NewStats(4)
	stats.Record(models.ProcessingTimings{Cycle: 1, Total: 20 * time.Millisecond}, 2)
	stats.Record(models.ProcessingTimings{Cycle: 2, Total: 40 * time.Millisecond}, 1)

	rec := httptest.NewRecorder()
	newTestRouter(stats).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	test.That(t, rec.Code, test.ShouldEqual, http.StatusOK)
	test.That(t, rec.Header().Get("Content-Type"), test.ShouldEqual, "application/json")

	var body map[string]interface{}
	test.That(t, json.Unmarshal(rec.Body.Bytes(), &body), test.ShouldBeNil)
	test.That(t, body["cycles"], test.ShouldEqual, 2.0)
	test.That(t, body["detections"], test.ShouldEqual, 3.0)
	test.That(t, body["last_boxes"], test.ShouldEqual, 1.0)
	test.That(t, body["latency_max_ms"], test.ShouldEqual, 40.0)
	test.That(t, body, test.ShouldContainKey, "uptime_seconds")
}

func TestMonitorErrors(t *testing.T) {
	r := newTestRouter(pipeline.NewStats(1))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusNotFound)
	var resp ErrorResponse
	test.That(t, json.Unmarshal(rec.Body.Bytes(), &resp), test.ShouldBeNil)
	test.That(t, resp.Code, test.ShouldEqual, "not_found")

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	test.That(t, rec.Code, test.ShouldEqual, http.StatusMethodNotAllowed)
}

func TestServeMonitor(t *testing.T) {
	shutdown, err := serveMonitor("127.0.0.1:0", pipeline.NewStats(1), zaptest.NewLogger(t).Sugar())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, shutdown(context.Background()), test.ShouldBeNil)

	_, err = serveMonitor("not-an-address", pipeline.NewStats(1), zaptest.NewLogger(t).Sugar())
	test.That(t, err, test.ShouldNotBeNil)
}
