package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	first := upstreamRequestsTotal
	Init()

	if upstreamRequestsTotal == nil || httpRequestsTotal == nil || renderSlotsInUse == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
	if first != upstreamRequestsTotal {
		t.Fatal("Init() replaced collectors on the second call")
	}
}

func TestObserveUpstream(t *testing.T) {
	ObserveUpstream("committee", 200, 150*time.Millisecond)
	ObserveUpstream("committee", 200, 80*time.Millisecond)
	ObserveUpstream("standard", 0, time.Second)

	if val := testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("committee", "200")); val != 2 {
		t.Errorf("expected 2 committee requests, got %f", val)
	}
	if val := testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("standard", "transport_error")); val != 1 {
		t.Errorf("expected 1 transport error, got %f", val)
	}
	if val := testutil.CollectAndCount(upstreamDurationSeconds); val <= 0 {
		t.Errorf("expected upstream durations to be observed, got %d", val)
	}
}

func TestRenderSlots(t *testing.T) {
	IncRenderSlots()
	IncRenderSlots()
	DecRenderSlots()

	if val := testutil.ToFloat64(renderSlotsInUse); val != 1 {
		t.Errorf("expected 1 busy render slot, got %f", val)
	}
	DecRenderSlots()
}

func TestObserveHTTPRequest(t *testing.T) {
	ObserveHTTPRequest("POST", "/v1/search", 201, 10*time.Millisecond)

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "201")); val != 1 {
		t.Errorf("expected 1 POST request, got %f", val)
	}
}
