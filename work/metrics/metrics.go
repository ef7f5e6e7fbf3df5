package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// FlowsIntercepted counts API flows seen by the addon, by action.
var FlowsIntercepted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sfvip_flows_intercepted_total",
	Help: "API flows intercepted by the addon",
}, []string{"action"})

// CacheLookups counts cached-all lookups by outcome (hit, miss).
var CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sfvip_cache_lookups_total",
	Help: "Catalog cache lookups",
}, []string{"outcome"})

// CachePagesIngested counts catalog pages captured on the save path.
var CachePagesIngested = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sfvip_cache_pages_ingested_total",
	Help: "Catalog pages appended to an in-progress cache build",
})

// EPGLookups counts short-epg lookups by outcome (hit, empty, no_index,
// no_server, no_stream, below_confidence).
var EPGLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sfvip_epg_lookups_total",
	Help: "EPG programme lookups",
}, []string{"outcome"})

// UpstreamErrors counts transport errors surfaced to the player as 502, per
// listener.
var UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sfvip_upstream_errors_total",
	Help: "Upstream transport errors",
}, []string{"listener"})

// ActiveFlows tracks in-flight flows per listener port.
var ActiveFlows = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "sfvip_active_flows",
	Help: "In-flight flows",
}, []string{"listener"})
