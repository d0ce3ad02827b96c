package metrics

import (
	"errors"
	"testing"
	"time"
)

// value returns the counter or gauge value of the series of family name whose
// labels include all of labels, and whether such a series exists.
func value(t *testing.T, m *Metrics, name string, labels map[string]string) (float64, bool) {
	t.Helper()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			got := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			match := true
			for k, v := range labels {
				if got[k] != v {
					match = false
					break
				}
			}
			if !match {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue(), true
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue(), true
			case metric.GetHistogram() != nil:
				return float64(metric.GetHistogram().GetSampleCount()), true
			}
		}
	}
	return 0, false
}

func TestNew_RegistersCollectors(t *testing.T) {
	m := New()

	// Touch the vectors so they are reported by Gather.
	m.ObserveRequest(RouteForward, 200)
	m.ObserveUpstream(200, time.Millisecond)
	m.ObserveTunnelDial(nil)
	m.TunnelOpened()(1, 1)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	want := map[string]bool{
		"keepalive_proxy_requests_total":                    false,
		"keepalive_proxy_requests_in_flight":                false,
		"keepalive_proxy_upstream_request_duration_seconds": false,
		"keepalive_proxy_upstream_responses_total":          false,
		"keepalive_proxy_tunnel_dials_total":                false,
		"keepalive_proxy_tunnels_active":                    false,
		"keepalive_proxy_tunnel_bytes_total":                false,
		"go_goroutines":                                     false,
	}
	for _, f := range families {
		if _, ok := want[f.GetName()]; ok {
			want[f.GetName()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestObserveRequest(t *testing.T) {
	m := New()

	m.ObserveRequest(RouteReject, 400)
	m.ObserveRequest(RouteReject, 400)
	m.ObserveRequest(RouteConnect, 200)

	if got, _ := value(t, m, "keepalive_proxy_requests_total", map[string]string{"route": RouteReject, "status_code": "400"}); got != 2 {
		t.Errorf("reject/400 = %v, want 2", got)
	}
	if got, _ := value(t, m, "keepalive_proxy_requests_total", map[string]string{"route": RouteConnect, "status_code": "200"}); got != 1 {
		t.Errorf("connect/200 = %v, want 1", got)
	}
}

func TestTrackInFlight(t *testing.T) {
	m := New()

	done := m.TrackInFlight()
	if got, _ := value(t, m, "keepalive_proxy_requests_in_flight", nil); got != 1 {
		t.Fatalf("in flight = %v, want 1", got)
	}
	done()
	if got, _ := value(t, m, "keepalive_proxy_requests_in_flight", nil); got != 0 {
		t.Fatalf("in flight = %v, want 0", got)
	}
}

func TestObserveUpstreamError(t *testing.T) {
	m := New()

	m.ObserveUpstream(0, time.Second)

	if _, found := value(t, m, "keepalive_proxy_upstream_responses_total", nil); found {
		t.Error("expected no upstream response series after a failed round trip")
	}
	if got, _ := value(t, m, "keepalive_proxy_upstream_request_duration_seconds", map[string]string{"result": "error"}); got != 1 {
		t.Errorf("error samples = %v, want 1", got)
	}
}

func TestTunnelLifecycle(t *testing.T) {
	m := New()

	m.ObserveTunnelDial(errors.New("refused"))
	closed := m.TunnelOpened()
	if got, _ := value(t, m, "keepalive_proxy_tunnels_active", nil); got != 1 {
		t.Fatalf("active = %v, want 1", got)
	}
	closed(5, 7)

	if got, _ := value(t, m, "keepalive_proxy_tunnels_active", nil); got != 0 {
		t.Errorf("active = %v, want 0", got)
	}
	if got, _ := value(t, m, "keepalive_proxy_tunnel_bytes_total", map[string]string{"direction": DirectionClientToTarget}); got != 5 {
		t.Errorf("client_to_target = %v, want 5", got)
	}
	if got, _ := value(t, m, "keepalive_proxy_tunnel_bytes_total", map[string]string{"direction": DirectionTargetToClient}); got != 7 {
		t.Errorf("target_to_client = %v, want 7", got)
	}
	if got, _ := value(t, m, "keepalive_proxy_tunnel_dials_total", map[string]string{"result": "error"}); got != 1 {
		t.Errorf("dials error = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	m.ObserveRequest(RouteForward, 200)
	m.TrackInFlight()()
	m.ObserveUpstream(200, time.Millisecond)
	m.ObserveTunnelDial(nil)
	m.TunnelOpened()(1, 2)
}
