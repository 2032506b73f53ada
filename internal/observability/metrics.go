package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the Prometheus metrics emitted by the evaluator, the
// solver and the optimizers. All methods are safe on a nil receiver.
type Collector struct {
	gatherer prometheus.Gatherer

	Evaluations        *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec
	SolverFallbacks    *prometheus.CounterVec
	SolverRuns         *prometheus.CounterVec
	SolverSteps        prometheus.Histogram
	Generations        *prometheus.CounterVec
	BestFitness        *prometheus.GaugeVec
}

// NewCollector registers the engine metrics against reg, defaulting to the
// global registry when reg is nil. Registering twice against the same
// registry reuses the existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	c.Evaluations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "antenna_evaluations_total",
		Help: "Fitness evaluations, labeled by the simulation method that produced the metrics.",
	}, []string{"method"}), "antenna_evaluations_total")
	if err != nil {
		return nil, err
	}
	c.EvaluationDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "antenna_evaluation_duration_seconds",
		Help:    "Wall time of one fitness evaluation.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"method"}), "antenna_evaluation_duration_seconds")
	if err != nil {
		return nil, err
	}
	c.SolverFallbacks, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "antenna_solver_fallbacks_total",
		Help: "Full-wave evaluations that fell back to closed-form models, by reason.",
	}, []string{"reason"}), "antenna_solver_fallbacks_total")
	if err != nil {
		return nil, err
	}
	c.SolverRuns, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "antenna_solver_runs_total",
		Help: "FDTD solver invocations by outcome (ok, unstable, error).",
	}, []string{"outcome"}), "antenna_solver_runs_total")
	if err != nil {
		return nil, err
	}
	c.SolverSteps, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "antenna_solver_steps",
		Help:    "Time steps executed per FDTD run.",
		Buckets: prometheus.LinearBuckets(0, 100, 11),
	}), "antenna_solver_steps")
	if err != nil {
		return nil, err
	}
	c.Generations, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "antenna_optimizer_generations_total",
		Help: "Completed optimizer generations, by algorithm.",
	}, []string{"algorithm"}), "antenna_optimizer_generations_total")
	if err != nil {
		return nil, err
	}
	c.BestFitness, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "antenna_optimizer_best_fitness",
		Help: "Best-ever fitness of the most recent generation, by algorithm.",
	}, []string{"algorithm"}), "antenna_optimizer_best_fitness")
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil || c.gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return c.gatherer
}

func (c *Collector) ObserveEvaluation(method string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.Evaluations.WithLabelValues(method).Inc()
	c.EvaluationDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (c *Collector) SolverFallback(reason string) {
	if c == nil {
		return
	}
	c.SolverFallbacks.WithLabelValues(reason).Inc()
}

func (c *Collector) ObserveSolverRun(outcome string, steps int) {
	if c == nil {
		return
	}
	c.SolverRuns.WithLabelValues(outcome).Inc()
	c.SolverSteps.Observe(float64(steps))
}

func (c *Collector) ObserveGeneration(algorithm string, bestEver float64) {
	if c == nil {
		return
	}
	c.Generations.WithLabelValues(algorithm).Inc()
	c.BestFitness.WithLabelValues(algorithm).Set(bestEver)
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T, name string) (T, error) {
	if err := reg.Register(collector); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			var zero T
			return zero, err
		}
		existing, ok := are.ExistingCollector.(T)
		if !ok {
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return existing, nil
	}
	return collector, nil
}
