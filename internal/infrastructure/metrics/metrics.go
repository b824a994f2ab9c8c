package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "regsync"

// Metrics records sync activity into its own prometheus registry.
type Metrics struct {
	reg *prometheus.Registry

	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	payloads *prometheus.CounterVec
	writes   *prometheus.CounterVec
	lastTick *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Queue events handled, by component and outcome.",
		}, []string{"component", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_duration_seconds",
			Help:      "Time spent handling one queue event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"component"}),
		payloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payloads_total",
			Help:      "Registry change payloads polled, by kind (received, dropped).",
		}, []string{"kind"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_writes_total",
			Help:      "Registry record writes, by operation.",
		}, []string{"op"}),
		lastTick: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_activity_timestamp_seconds",
			Help:      "Unix time of the last handled event or poll per component.",
		}, []string{"component"}),
	}

	m.reg.MustRegister(
		m.events, m.duration, m.payloads, m.writes, m.lastTick,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) EventHandled(component, outcome string, d time.Duration) {
	m.events.WithLabelValues(component, outcome).Inc()
	m.duration.WithLabelValues(component).Observe(d.Seconds())
	m.lastTick.WithLabelValues(component).SetToCurrentTime()
}

func (m *Metrics) PayloadsPolled(received, dropped int) {
	m.payloads.WithLabelValues("received").Add(float64(received))
	m.payloads.WithLabelValues("dropped").Add(float64(dropped))
	m.lastTick.WithLabelValues("listener").SetToCurrentTime()
}

func (m *Metrics) RecordWritten(op string) {
	m.writes.WithLabelValues(op).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Router serves /metrics and /healthz.
func (m *Metrics) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{}))
	return r
}

// Serve listens on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	log.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
