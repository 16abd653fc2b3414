package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"molder/internal/types"
)

// Exporter turns controller telemetry into Prometheus metrics. It is fed
// by the tick scheduler.
type Exporter struct {
	registry *prometheus.Registry

	totalParts      prometheus.Counter
	sessionParts    prometheus.Gauge
	mode            prometheus.Gauge
	state           prometheus.Gauge
	cycleTimer      prometheus.Gauge
	temperature     prometheus.Gauge
	tickDuration    prometheus.Histogram
	tickOverruns    prometheus.Counter
	persistFailures prometheus.Counter
	estopEvents     prometheus.Counter
	outputs         *prometheus.GaugeVec

	last    types.Telemetry
	started bool
}

func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		totalParts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "molder_parts_total",
			Help: "Parts ejected since the service started.",
		}),
		sessionParts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "molder_session_parts",
			Help: "Session part count shown to the operator.",
		}),
		mode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "molder_mode",
			Help: "Current mode index (init, abort, auto, auto2, auto-stop, manual).",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "molder_cycle_state",
			Help: "Current cycle state index (idle, close, inject, cool, open, eject, inject2, cool2, detect).",
		}),
		cycleTimer: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "molder_cycle_timer_seconds",
			Help: "Cycle timer value.",
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "molder_temperature_celsius",
			Help: "Barrel temperature, NaN when unavailable.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "molder_tick_duration_seconds",
			Help:    "Time spent in one controller tick.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		tickOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "molder_tick_overruns_total",
			Help: "Ticks that took longer than the tick period.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "molder_count_persist_failures_total",
			Help: "Times the total count became pending after a failed save.",
		}),
		estopEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "molder_estop_activations_total",
			Help: "E-stop activations.",
		}),
		outputs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "molder_output",
			Help: "Actuator output state (1 asserted).",
		}, []string{"output"}),
	}

	e.registry.MustRegister(
		e.totalParts, e.sessionParts, e.mode, e.state, e.cycleTimer,
		e.temperature, e.tickDuration, e.tickOverruns, e.persistFailures,
		e.estopEvents, e.outputs,
	)
	return e
}

func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// ObserveTick updates the metrics from one tick. Counters advance on
// edges between consecutive snapshots.
func (e *Exporter) ObserveTick(t types.Telemetry, info types.TickInfo) {
	e.tickDuration.Observe(info.Elapsed.Seconds())
	if info.Overrun {
		e.tickOverruns.Inc()
	}

	if e.started {
		if t.TotalCount > e.last.TotalCount {
			e.totalParts.Add(float64(t.TotalCount - e.last.TotalCount))
		}
		if t.EStop && !e.last.EStop {
			e.estopEvents.Inc()
		}
		if t.CountPending && !e.last.CountPending {
			e.persistFailures.Inc()
		}
	}

	e.sessionParts.Set(float64(t.PartCount))
	e.mode.Set(float64(t.Mode.Index()))
	e.state.Set(float64(t.State.Index()))
	e.cycleTimer.Set(t.CycleTimer.Seconds())
	e.temperature.Set(t.Temperature)
	for ch, on := range t.Outputs.Channels() {
		e.outputs.WithLabelValues(ch).Set(boolToFloat(on))
	}

	e.last = t
	e.started = true
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
