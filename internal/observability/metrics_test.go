package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsBroadcastCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncBroadcastStarted()
	metrics.IncBroadcastResumed()
	metrics.IncBroadcastResumed()
	metrics.IncBroadcastCompleted(" Coordinator ")
	metrics.IncLeaseClaimLost()
	metrics.IncInvocationFailed("resume")
	metrics.IncRecipientProcessed("sent")
	metrics.IncRecipientProcessed("failed")
	metrics.ObserveRecipientSendDuration(120 * time.Millisecond)
	metrics.IncDispatchInFlight()
	metrics.DecDispatchInFlight()
	metrics.IncJobRun("resume-stalled-broadcasts", "success")

	if got := testutil.ToFloat64(metrics.broadcastsStartedTotal); got != 1 {
		t.Fatalf("broadcasts_started_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.broadcastsResumedTotal); got != 2 {
		t.Fatalf("broadcasts_resumed_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.broadcastsCompletedTotal.WithLabelValues(CompletionSourceCoordinator)); got != 1 {
		t.Fatalf("broadcasts_completed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.leaseClaimsLostTotal); got != 1 {
		t.Fatalf("lease_claims_lost_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.invocationsFailedTotal.WithLabelValues("resume")); got != 1 {
		t.Fatalf("dispatch_invocations_failed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.recipientsProcessedTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("recipients_processed_total{failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.dispatchInflight); got != 0 {
		t.Fatalf("dispatch_inflight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.jobRunsTotal.WithLabelValues("resume-stalled-broadcasts", "success")); got != 1 {
		t.Fatalf("job_runs_total = %v, want 1", got)
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncBroadcastStarted()
	metrics.IncBroadcastCompleted(CompletionSourceWorker)
	metrics.IncLeaseClaimLost()
	metrics.ObserveRecipientSendDuration(time.Second)
	metrics.IncJobRun("job", "error")

	if metrics.Handler() == nil {
		t.Fatal("Handler() on nil metrics should fall back to the default handler")
	}
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
	app.Post("/functions/v1/resume-stalled-broadcasts", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("POST", "/functions/v1/resume-stalled-broadcasts", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("POST", "/functions/v1/resume-stalled-broadcasts", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
