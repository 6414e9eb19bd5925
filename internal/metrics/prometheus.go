package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/btcforks/forksim/pkg/models"
)

// PrometheusExporter mirrors a subset of the JSON artifacts as Prometheus
// gauges/counters for a live dashboard to scrape. The JSON artifact set
// remains the system of record (spec.md §6); this is a supplementary,
// best-effort view and is never read back by the simulator itself.
type PrometheusExporter struct {
	registry *prometheus.Registry

	priceUSD       *prometheus.GaugeVec
	difficulty     *prometheus.GaugeVec
	cumulativeWork *prometheus.GaugeVec
	feeRate        *prometheus.GaugeVec
	reorgsTotal    *prometheus.CounterVec
	decisionsTotal *prometheus.CounterVec
}

// NewPrometheusExporter registers a fresh set of gauges/counters on a new
// registry (never the global default registry, so multiple simulator runs
// in one process — e.g. parallel sweeps — never collide on metric names).
func NewPrometheusExporter() *PrometheusExporter {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &PrometheusExporter{
		registry: reg,
		priceUSD: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "forksim",
			Name:      "fork_price_usd",
			Help:      "Current oracle price in USD for a fork.",
		}, []string{"fork"}),
		difficulty: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "forksim",
			Name:      "fork_difficulty",
			Help:      "Current mining difficulty for a fork.",
		}, []string{"fork"}),
		cumulativeWork: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "forksim",
			Name:      "fork_cumulative_work",
			Help:      "Cumulative proof-of-work for a fork's live tip.",
		}, []string{"fork"}),
		feeRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "forksim",
			Name:      "fork_fee_rate",
			Help:      "Current organic+manipulated fee rate for a fork.",
		}, []string{"fork"}),
		reorgsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forksim",
			Name:      "reorgs_total",
			Help:      "Total reorg events recorded, by cause.",
		}, []string{"cause"}),
		decisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forksim",
			Name:      "decisions_total",
			Help:      "Total agent decisions recorded, by reason.",
		}, []string{"reason"}),
	}
}

// Observe updates the gauges from the current fork state.
func (e *PrometheusExporter) Observe(fork models.ForkID, f ForkSnapshot) {
	e.priceUSD.WithLabelValues(string(fork)).Set(f.PriceUSD)
	e.difficulty.WithLabelValues(string(fork)).Set(f.Difficulty)
	e.cumulativeWork.WithLabelValues(string(fork)).Set(f.CumulativeWork)
	e.feeRate.WithLabelValues(string(fork)).Set(f.FeeRate)
}

// ObserveReorg increments the reorg counter for one event's cause.
func (e *PrometheusExporter) ObserveReorg(ev models.ReorgEvent) {
	e.reorgsTotal.WithLabelValues(string(ev.Cause)).Inc()
}

// ObserveDecision increments the decision counter for one record's reason.
func (e *PrometheusExporter) ObserveDecision(d models.DecisionRecord) {
	e.decisionsTotal.WithLabelValues(string(d.Reason)).Inc()
}

// Handler returns the /metrics HTTP handler for this exporter's registry.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
