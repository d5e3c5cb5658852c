package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRegistry_Exposition(t *testing.T) {
	r := New()
	r.IncRequest("GET", OutcomeDirect, 200)
	r.IncRewrite(OutcomeDirect)
	r.IncRewrite(OutcomeRejected)
	r.IncDialError()
	r.IncActive()
	r.ObserveDuration(OutcomeDirect, 42*time.Millisecond)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	res, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = res.Body.Close() }()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}

	out := string(body)
	for _, want := range []string{
		`revproxy_requests_total{code="200",method="GET",outcome="direct"} 1`,
		`revproxy_rewrites_total{outcome="rejected"} 1`,
		`revproxy_upstream_dial_errors_total 1`,
		`revproxy_active_requests 1`,
		`revproxy_request_duration_seconds_count{outcome="direct"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("exposition missing %q\n%s", want, out)
		}
	}
}

func TestRegistry_IndependentInstances(t *testing.T) {
	// Two registries must not collide on registration.
	_ = New()
	_ = New()
}
