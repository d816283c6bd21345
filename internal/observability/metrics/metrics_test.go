package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveHTTPRequestCountsServerErrors(t *testing.T) {
	before := testutil.ToFloat64(httpErrors.WithLabelValues("/api/v1/orders", http.MethodPost))
	ObserveHTTPRequest("/api/v1/orders", http.MethodPost, http.StatusBadGateway, 20*time.Millisecond)
	ObserveHTTPRequest("/api/v1/orders", http.MethodPost, http.StatusOK, 10*time.Millisecond)

	if got := testutil.ToFloat64(httpErrors.WithLabelValues("/api/v1/orders", http.MethodPost)); got != before+1 {
		t.Fatalf("expected one more server error, got %v (before %v)", got, before)
	}
}

func TestGuardrailCounters(t *testing.T) {
	blocked := testutil.ToFloat64(placements.WithLabelValues(PlacementBlocked))
	ObservePlacement(PlacementBlocked)
	if got := testutil.ToFloat64(placements.WithLabelValues(PlacementBlocked)); got != blocked+1 {
		t.Fatalf("unexpected blocked count: %v", got)
	}

	failed := testutil.ToFloat64(toolCalls.WithLabelValues("place_order", "error"))
	ObserveToolCall("place_order", errors.New("boom"))
	if got := testutil.ToFloat64(toolCalls.WithLabelValues("place_order", "error")); got != failed+1 {
		t.Fatalf("unexpected tool error count: %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	ObserveConfirmation("confirmed", true)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `shopmcp_confirmations_total{kind="confirmed",satisfied="true"}`) {
		t.Fatalf("missing confirmation metric:\n%s", body)
	}
}
