// Package metrics registers the Prometheus collectors the VM subsystem
// exposes on /metrics, grounded on the exporter shape used by
// lesovsky-pgscv and talyz-systemd_exporter.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups every counter/gauge the VM components update. A single
// instance is created per VmSystem and threaded through the components
// that need it, the same way pgscv's collectors share one registry.
type Registry struct {
	FramesInUse  prometheus.Gauge
	FramesFree   prometheus.Gauge
	FramesHigh   prometheus.Gauge
	SwapInUse    prometheus.Gauge
	SwapFree     prometheus.Gauge
	Faults       *prometheus.CounterVec
	Evictions    *prometheus.CounterVec
	MmapCalls    prometheus.Counter
	MunmapCalls  prometheus.Counter
	ProcessExits prometheus.Counter
}

// NewRegistry builds and registers a fresh Registry against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		FramesInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vmkern", Subsystem: "frames", Name: "in_use",
			Help: "Number of physical user frames currently resident.",
		}),
		FramesFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vmkern", Subsystem: "frames", Name: "free",
			Help: "Number of physical user frames available for allocation.",
		}),
		FramesHigh: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vmkern", Subsystem: "frames", Name: "high_water",
			Help: "Largest number of frames ever simultaneously in use.",
		}),
		SwapInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vmkern", Subsystem: "swap", Name: "slots_in_use",
			Help: "Number of swap slots currently allocated.",
		}),
		SwapFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vmkern", Subsystem: "swap", Name: "slots_free",
			Help: "Number of free swap slots.",
		}),
		Faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vmkern", Subsystem: "faults", Name: "total",
			Help: "Page faults handled, partitioned by resolution outcome.",
		}, []string{"outcome"}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vmkern", Subsystem: "frames", Name: "evictions_total",
			Help: "Frame evictions performed, partitioned by eviction action.",
		}, []string{"action"}),
		MmapCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vmkern", Subsystem: "mmap", Name: "calls_total",
			Help: "Successful mmap() calls.",
		}),
		MunmapCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vmkern", Subsystem: "mmap", Name: "unmaps_total",
			Help: "munmap() calls (including implicit ones at process exit).",
		}),
		ProcessExits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vmkern", Subsystem: "process", Name: "exits_total",
			Help: "Processes that have torn down their VM state.",
		}),
	}
	reg.MustRegister(
		r.FramesInUse, r.FramesFree, r.FramesHigh,
		r.SwapInUse, r.SwapFree,
		r.Faults, r.Evictions,
		r.MmapCalls, r.MunmapCalls, r.ProcessExits,
	)
	return r
}

// Fault outcome labels, named after the page-fault resolver's dispatch
// branches (spec.md §4.5).
const (
	FaultFileLoad   = "file_load"
	FaultZeroFill   = "zero_fill"
	FaultSwapIn     = "swap_in"
	FaultStackGrow  = "stack_grow"
	FaultSegv       = "segv"
)

// Eviction action labels, named after the frame table's eviction policy
// (spec.md §4.2).
const (
	EvictDiscard       = "discard"
	EvictWriteback     = "writeback"
	EvictPromoteAnon   = "promote_to_anon"
	EvictSwapWrite     = "swap_write"
)
