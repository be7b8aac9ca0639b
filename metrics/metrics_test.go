package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wippyai/domain-runtime/pages"
	"github.com/wippyai/domain-runtime/proxy"
	"github.com/wippyai/domain-runtime/resource"
	"github.com/wippyai/domain-runtime/sheap"
)

func TestRegisterMetricsIsIdempotent(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()
}

func TestObserver(t *testing.T) {
	var o Observer
	o.OnProxyEvent(proxy.Event{Type: proxy.EventDispatch, Proxy: "obs", Method: "read_block"})
	o.OnProxyEvent(proxy.Event{Type: proxy.EventDispatch, Proxy: "obs", Method: "read_block", Slow: true})
	o.OnProxyEvent(proxy.Event{Type: proxy.EventDispatch, Proxy: "obs", Method: "read_block"})
	o.OnProxyEvent(proxy.Event{Type: proxy.EventCrash, Proxy: "obs", Method: "read_block"})
	o.OnProxyEvent(proxy.Event{Type: proxy.EventReplace, Proxy: "obs", Duration: time.Millisecond})
	o.OnProxyEvent(proxy.Event{Type: proxy.EventReplaceFailed, Proxy: "obs", Err: errors.New("init")})

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"fast calls", testutil.ToFloat64(dispatches.WithLabelValues("obs", "read_block", "fast")), 2},
		{"slow calls", testutil.ToFloat64(dispatches.WithLabelValues("obs", "read_block", "slow")), 1},
		{"crashes", testutil.ToFloat64(crashes.WithLabelValues("obs", "read_block")), 1},
		{"replaces", testutil.ToFloat64(replaces.WithLabelValues("obs", "true")), 1},
		{"failed replaces", testutil.ToFloat64(replaces.WithLabelValues("obs", "false")), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
	if n := testutil.CollectAndCount(replaceDuration); n == 0 {
		t.Error("replace duration not observed")
	}
}

func TestResourceObserver(t *testing.T) {
	before := testutil.ToFloat64(reclaims)
	freed := testutil.ToFloat64(reclaimedAllocations.WithLabelValues("freed"))

	var o ResourceObserver
	o.OnResourceEvent(resource.Event{Type: resource.EventReclaimed, Report: &resource.Report{FreedAllocations: 3, ForwardedAllocations: 1, Pages: 4}})
	o.OnResourceEvent(resource.Event{Type: resource.EventReclaimed})

	if got := testutil.ToFloat64(reclaims) - before; got != 1 {
		t.Errorf("reclaims = %v, want 1", got)
	}
	if got := testutil.ToFloat64(reclaimedAllocations.WithLabelValues("freed")) - freed; got != 3 {
		t.Errorf("freed = %v, want 3", got)
	}
}

func TestResourceObserver_Tracker(t *testing.T) {
	alloc := pages.New(0, 64)
	tr := resource.NewTracker(alloc, nil)
	tr.Subscribe(ResourceObserver{})

	registered := testutil.ToFloat64(pageEvents.WithLabelValues("registered"))
	released := testutil.ToFloat64(pageEvents.WithLabelValues("released"))

	if _, err := tr.AllocPages(3, 4); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Reclaim(3, resource.FreeAll()); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(pageEvents.WithLabelValues("registered")) - registered; got != 4 {
		t.Errorf("registered pages = %v, want 4", got)
	}
	if got := testutil.ToFloat64(pageEvents.WithLabelValues("released")) - released; got != 4 {
		t.Errorf("released pages = %v, want 4", got)
	}
}

func TestHeapCollector(t *testing.T) {
	frames := pages.New(0, 32)
	h := sheap.New(sheap.Options{Pages: frames})
	if _, err := sheap.NewValue(h.Scope(1), uint64(1)); err != nil {
		t.Fatal(err)
	}

	c := NewHeapCollector(h, frames)
	// in use, reserved, two allocation kinds, types, two frame states
	if n := testutil.CollectAndCount(c); n != 7 {
		t.Errorf("collected %d metrics, want 7", n)
	}
	if n := testutil.CollectAndCount(NewHeapCollector(h, nil)); n != 5 {
		t.Errorf("collected %d metrics without frames, want 5", n)
	}
}
