package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsPipelineCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncBatch("ACCEPTED")
	metrics.IncChunk("failed")
	metrics.IncChunk("completed")
	metrics.IncWorkerInFlight("chunks")
	metrics.DecWorkerInFlight("chunks")
	metrics.IncVerification("Valid")
	metrics.IncNamespaceSwept()

	if got := testutil.ToFloat64(metrics.batchesTotal.WithLabelValues("accepted")); got != 1 {
		t.Fatalf("batches_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.chunksTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("chunks_total{failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.workerInflight.WithLabelValues("chunks")); got != 0 {
		t.Fatalf("worker_inflight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.verificationsTotal.WithLabelValues("valid")); got != 1 {
		t.Fatalf("verifications_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.namespacesSweptTotal); got != 1 {
		t.Fatalf("namespaces_swept_total = %v, want 1", got)
	}
}

func TestMetricsLedgerCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	started := time.Now().Add(-50 * time.Millisecond)

	metrics.ObserveLedgerCall("verify_certificate_by_id", nil, started)
	metrics.ObserveLedgerCall("verify_certificate_by_id", errors.New("timeout"), started)
	metrics.IncLedgerRetry("verify_certificate_by_id")

	if got := testutil.ToFloat64(metrics.ledgerCallsTotal.WithLabelValues("verify_certificate_by_id", "ok")); got != 1 {
		t.Fatalf("ledger_calls_total{ok} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ledgerCallsTotal.WithLabelValues("verify_certificate_by_id", "error")); got != 1 {
		t.Fatalf("ledger_calls_total{error} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.ledgerRetriesTotal.WithLabelValues("verify_certificate_by_id")); got != 1 {
		t.Fatalf("ledger_retries_total = %v, want 1", got)
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncBatch("accepted")
	metrics.ObserveLedgerCall("issue_batch", nil, time.Now())
	metrics.IncLedgerRetry("issue_batch")
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
