package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ActiveStreams tracks the number of in-flight video transfers per host.
// Gauge: rises when a transfer starts, falls when it ends for any reason.
var ActiveStreams = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "vodgate_active_streams",
	Help: "Number of in-flight video transfers",
}, []string{"host"})

// BytesStreamed counts bytes delivered to clients per host, labeled by
// whether the request was a full-file or range transfer.
var BytesStreamed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vodgate_bytes_streamed",
	Help: "Total bytes written to streaming clients",
}, []string{"host", "kind"})

// StreamErrors counts streaming failures per host. The "error_type"
// label categorizes the failure (timeout, remote, write, aborted).
var StreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vodgate_stream_errors",
	Help: "Number of streaming errors",
}, []string{"host", "error_type"})

// Conversions counts transcode jobs per host labeled by outcome
// (done, error, already_exists).
var Conversions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vodgate_conversions_total",
	Help: "Number of conversion jobs by outcome",
}, []string{"host", "outcome"})

// RemoteExecFailures counts transport-level remote execution failures
// per host (dial errors, dropped connections, command timeouts).
var RemoteExecFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vodgate_remote_exec_failures",
	Help: "Number of remote execution transport failures",
}, []string{"host", "reason"})

// ProbeCacheHits counts probe metadata cache lookups labeled hit/miss.
var ProbeCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vodgate_probe_cache_lookups",
	Help: "Probe metadata cache lookups by result",
}, []string{"result"})
