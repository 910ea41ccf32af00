package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveHTTPRequestCountsErrors(t *testing.T) {
	before := testutil.ToFloat64(httpErrors.WithLabelValues("/test", http.MethodGet))
	ObserveHTTPRequest("/test", http.MethodGet, http.StatusBadGateway, 20*time.Millisecond)
	ObserveHTTPRequest("/test", http.MethodGet, http.StatusOK, 20*time.Millisecond)
	after := testutil.ToFloat64(httpErrors.WithLabelValues("/test", http.MethodGet))
	if after-before != 1 {
		t.Fatalf("expected one server error, got %v", after-before)
	}
}

func TestHandlerExposesDomainMetrics(t *testing.T) {
	ObserveCommand("web_search", "success", time.Second)
	ObservePlanning("strategic", "success")
	ObserveVerification("tactical", false)
	ObserveSession("DONE")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`ageeeent_commands_executed_total{outcome="success",tool="web_search"}`,
		`ageeeent_planning_attempts_total{outcome="success",stage="strategic"}`,
		`ageeeent_verifications_total{result="failed",scope="tactical"}`,
		`ageeeent_sessions_finished_total{status="DONE"}`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}
