package varjofuse

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/function61/gokit/promconstmetrics"
	"github.com/function61/varjo/pkg/varjoalias"
	"github.com/function61/varjo/pkg/varjoblock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsController struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec

	lookups      prometheus.Counter
	lookupErrors *prometheus.CounterVec
	reaped       prometheus.Counter
	openFiles    prometheus.Gauge
	readBytes    prometheus.Counter

	// refreshed at interval from the alias layer's and block list's counters
	aliasLookups *promconstmetrics.Ref
	aliasHits    *promconstmetrics.Ref
	aliasRaces   *promconstmetrics.Ref
	aliasLive    *promconstmetrics.Ref
	nameTooLong  *promconstmetrics.Ref
	blocksActive *promconstmetrics.Ref
	blockWaiters *promconstmetrics.Ref
	blockWaits   *promconstmetrics.Ref
	idleNodes    *promconstmetrics.Ref
	constMetrics *promconstmetrics.Collector
}

func newMetricsController() *metricsController {
	reg := prometheus.NewRegistry()

	constMetrics := promconstmetrics.NewCollector()
	noLabels := prometheus.Labels{}

	m := &metricsController{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "varjo_http_requests_total",
			Help: "Control API's handled requests",
		}, []string{"code", "method"}),
		lookups: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "varjo_lookups_total",
			Help: "FUSE lookups (incl. errors)",
		}),
		lookupErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "varjo_lookup_errors_total",
			Help: "Failed FUSE lookups",
		}, []string{"errno"}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "varjo_reaped_nodes_total",
			Help: "Idle nodes reclaimed by the reaper",
		}),
		openFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "varjo_open_files",
			Help: "Currently open file handles",
		}),
		readBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "varjo_read_bytes_total",
			Help: "Bytes read through the mirror",
		}),
		aliasLookups: constMetrics.Register("varjo_alias_lookups", "Alias table lookups", noLabels),
		aliasHits:    constMetrics.Register("varjo_alias_hits", "Alias table lookups that found an existing node", noLabels),
		aliasRaces:   constMetrics.Register("varjo_alias_races", "Node creations that lost to a concurrent creation", noLabels),
		aliasLive:    constMetrics.Register("varjo_alias_live_nodes", "Nodes in the alias table", noLabels),
		nameTooLong:  constMetrics.Register("varjo_block_names_too_long", "Block names that did not fit", noLabels),
		blocksActive: constMetrics.Register("varjo_blocks_active", "Blocked paths", noLabels),
		blockWaiters: constMetrics.Register("varjo_block_waiters", "Lookups currently waiting on a block", noLabels),
		blockWaits:   constMetrics.Register("varjo_block_waits", "Lookups that had to wait on a block", noLabels),
		idleNodes:    constMetrics.Register("varjo_idle_nodes", "Nodes waiting for the reaper", noLabels),
		constMetrics: constMetrics,
	}

	reg.MustRegister(m.httpRequests)
	reg.MustRegister(m.lookups)
	reg.MustRegister(m.lookupErrors)
	reg.MustRegister(m.reaped)
	reg.MustRegister(m.openFiles)
	reg.MustRegister(m.readBytes)
	reg.MustRegister(m.constMetrics)
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return m
}

func (m *metricsController) lookupFailed(errno error) {
	m.lookupErrors.With(prometheus.Labels{"errno": errno.Error()}).Inc()
}

// builds a cancellable metrics collection task that can be given to taskrunner
func (m *metricsController) Task(fsys *shadowFS) func(context.Context) error {
	return func(ctx context.Context) error {
		metricsCollectionInterval := time.NewTicker(5 * time.Second)
		defer metricsCollectionInterval.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-metricsCollectionInterval.C:
				m.collect(fsys.mount.Stats(), fsys.blocks.Stats(), fsys.idleLen(), time.Now())
			}
		}
	}
}

func (m *metricsController) collect(alias varjoalias.Stats, blocks varjoblock.Stats, idle int, now time.Time) {
	constMetrics := m.constMetrics // shorthand

	constMetrics.Observe(m.aliasLookups, float64(alias.Lookups), now)
	constMetrics.Observe(m.aliasHits, float64(alias.Hits), now)
	constMetrics.Observe(m.aliasRaces, float64(alias.Races), now)
	constMetrics.Observe(m.aliasLive, float64(alias.Live), now)
	constMetrics.Observe(m.nameTooLong, float64(alias.NameTooLong), now)
	constMetrics.Observe(m.blocksActive, float64(blocks.Active), now)
	constMetrics.Observe(m.blockWaiters, float64(blocks.Waiting), now)
	constMetrics.Observe(m.blockWaits, float64(blocks.TotalWaits), now)
	constMetrics.Observe(m.idleNodes, float64(idle), now)
}

func (m *metricsController) MetricsHTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// instruments a HTTP handler
func (m *metricsController) WrapHTTPServer(actual http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats := httpsnoop.CaptureMetrics(actual, w, r)

		m.httpRequests.With(prometheus.Labels{
			"code":   strconv.Itoa(stats.Code),
			"method": r.Method,
		}).Inc()
	})
}
