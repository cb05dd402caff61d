package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollector_RegistersAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetConnected(true)
	c.RecordMessage()
	c.RecordMessage()
	c.RecordMatches(3)
	c.RecordReconnect()
	c.RecordError()
	c.RecordPublishError()
	c.RecordTokenRefresh(true)
	c.RecordTokenRefresh(false)
	c.SetSubscriptions(10, 2)
	c.SetUptime(42)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, req)

	body := rec.Body.String()
	for _, want := range []string{
		"floatfeed_connection_up 1",
		"floatfeed_messages_total 2",
		"floatfeed_matches_total 3",
		"floatfeed_reconnects_total 1",
		"floatfeed_connection_errors_total 1",
		"floatfeed_publish_errors_total 1",
		`floatfeed_token_refreshes_total{outcome="success"} 1`,
		`floatfeed_token_refreshes_total{outcome="failure"} 1`,
		`floatfeed_active_subscriptions{identity_id="10"} 2`,
		"floatfeed_connection_uptime_seconds 42",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestCollector_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("registering the same collector twice should panic")
		}
	}()
	NewCollector(reg)
}
