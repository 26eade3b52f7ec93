package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_RecordsWhenEnabled(t *testing.T) {
	c := NewCollector(Options{Enabled: true, Namespace: "test"})

	c.RecordGuardDecision(false, "InputValidation", "INVALID_INPUT", time.Millisecond)
	c.RecordGuardDecision(true, "", "", time.Millisecond)
	c.RecordToolDecision(false)
	c.RecordOutputEvaluation("masked", 2, time.Millisecond)
	c.RecordAdminOperation("create_rule", errors.New("boom"))
	c.SetRevision(7)

	if got := testutil.ToFloat64(c.guardDecisions.WithLabelValues("rejected", "InputValidation", "INVALID_INPUT")); got != 1 {
		t.Errorf("expected 1 rejected decision, got %v", got)
	}
	if got := testutil.ToFloat64(c.toolDecisions.WithLabelValues("deny")); got != 1 {
		t.Errorf("expected 1 deny, got %v", got)
	}
	if got := testutil.ToFloat64(c.invalidRules); got != 2 {
		t.Errorf("expected 2 invalid rules, got %v", got)
	}
	if got := testutil.ToFloat64(c.adminOperations.WithLabelValues("create_rule", "error")); got != 1 {
		t.Errorf("expected 1 failed admin op, got %v", got)
	}
	if got := testutil.ToFloat64(c.revision); got != 7 {
		t.Errorf("expected revision 7, got %v", got)
	}
}

func TestCollector_DisabledRecordsNothing(t *testing.T) {
	c := NewCollector(Options{Enabled: false})
	c.RecordToolDecision(true)
	if got := testutil.ToFloat64(c.toolDecisions.WithLabelValues("allow")); got != 0 {
		t.Errorf("expected 0 when disabled, got %v", got)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.RecordGuardDecision(true, "", "", 0)
	c.RecordHookOutcome("BeforeToolCall", "proceed")
	c.RecordHookError("BeforeToolCall", "x", true)
	c.AddPendingApprovals(1)
	c.SetRevision(1)

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 from nil collector handler, got %d", w.Code)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(Options{Enabled: true, Namespace: "governor"})
	c.RecordHookOutcome("BeforeAgentStart", "rejected")

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "governor_hooks_dispatch_total") {
		t.Error("expected hook dispatch metric in output")
	}
}
