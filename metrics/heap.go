package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wippyai/domain-runtime/sheap"
)

// HeapSource reports shared heap statistics.
type HeapSource interface {
	Stats() sheap.Stats
}

// FrameSource reports frame allocator usage.
type FrameSource interface {
	Used() uint64
	Free() uint64
}

// HeapCollector samples the shared heap and frame allocator on scrape.
type HeapCollector struct {
	heap   HeapSource
	frames FrameSource

	inUse    *prometheus.Desc
	reserved *prometheus.Desc
	live     *prometheus.Desc
	types    *prometheus.Desc
	frameUse *prometheus.Desc
}

// NewHeapCollector creates a collector. frames may be nil.
func NewHeapCollector(heap HeapSource, frames FrameSource) *HeapCollector {
	return &HeapCollector{
		heap:     heap,
		frames:   frames,
		inUse:    prometheus.NewDesc(namespace+"_heap_in_use_bytes", "Shared heap bytes held by live allocations.", nil, nil),
		reserved: prometheus.NewDesc(namespace+"_heap_reserved_bytes", "Bytes of pages reserved by the shared heap.", nil, nil),
		live:     prometheus.NewDesc(namespace+"_heap_allocations", "Live shared heap allocations by kind.", []string{"kind"}, nil),
		types:    prometheus.NewDesc(namespace+"_heap_types", "Types registered with the shared heap.", nil, nil),
		frameUse: prometheus.NewDesc(namespace+"_frames", "Page frames by state.", []string{"state"}, nil),
	}
}

func (c *HeapCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.inUse
	ch <- c.reserved
	ch <- c.live
	ch <- c.types
	if c.frames != nil {
		ch <- c.frameUse
	}
}

func (c *HeapCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.heap.Stats()
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(s.InUse))
	ch <- prometheus.MustNewConstMetric(c.reserved, prometheus.GaugeValue, float64(s.Reserved))
	ch <- prometheus.MustNewConstMetric(c.live, prometheus.GaugeValue, float64(s.Live-s.Views), "owned")
	ch <- prometheus.MustNewConstMetric(c.live, prometheus.GaugeValue, float64(s.Views), "view")
	ch <- prometheus.MustNewConstMetric(c.types, prometheus.GaugeValue, float64(s.Types))
	if c.frames != nil {
		ch <- prometheus.MustNewConstMetric(c.frameUse, prometheus.GaugeValue, float64(c.frames.Used()), "used")
		ch <- prometheus.MustNewConstMetric(c.frameUse, prometheus.GaugeValue, float64(c.frames.Free()), "free")
	}
}
