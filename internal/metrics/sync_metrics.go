package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics содержит метрики запусков синхронизации.
type SyncMetrics struct {
	// Счётчики запусков
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec

	// Гистограммы времени выполнения
	runDuration  prometheus.Histogram
	stepDuration *prometheus.HistogramVec

	// Счётчики записей
	ordersFetched    prometheus.Counter
	ordersProcessed  *prometheus.CounterVec
	ordersSkipped    *prometheus.CounterVec
	creditsProcessed prometheus.Counter
	replayed         *prometheus.CounterVec
	fetchAttempts    *prometheus.CounterVec

	// Состояние
	activeRuns      prometheus.Gauge
	watermark       prometheus.Gauge
	lastSuccessTime prometheus.Gauge
}

// NewSyncMetrics создаёт метрики в реестре по умолчанию.
func NewSyncMetrics() *SyncMetrics {
	return NewSyncMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSyncMetricsWithRegisterer создаёт метрики в заданном реестре. Повторная регистрация
// возвращает уже существующие коллекторы, поэтому конструктор можно вызывать на каждый запуск.
func NewSyncMetricsWithRegisterer(registerer prometheus.Registerer) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SyncMetrics{
		runsStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ordersync_runs_started_total",
			Help: "Total number of sync runs started",
		}),
		runsFinished: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordersync_runs_finished_total",
			Help: "Total number of sync runs finished grouped by mode and status",
		}, []string{"mode", "status"}),
		runDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "ordersync_run_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "ordersync_step_duration_seconds",
			Help:    "Duration of individual sync steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"step"}),
		ordersFetched: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ordersync_orders_fetched_total",
			Help: "Total number of raw order records fetched from upstream",
		}),
		ordersProcessed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordersync_orders_processed_total",
			Help: "Total number of orders persisted grouped by upsert outcome",
		}, []string{"outcome"}),
		ordersSkipped: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordersync_orders_skipped_total",
			Help: "Total number of order records skipped grouped by stage",
		}, []string{"stage"}),
		creditsProcessed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "ordersync_credits_processed_total",
			Help: "Total number of credit memos processed",
		}),
		replayed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordersync_dead_letters_replayed_total",
			Help: "Total number of dead-letter replays grouped by result",
		}, []string{"result"}),
		fetchAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "ordersync_fetch_page_attempts_total",
			Help: "Total number of upstream page requests grouped by result",
		}, []string{"result"}),
		activeRuns: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "ordersync_active_runs",
			Help: "Number of sync runs currently in progress",
		}),
		watermark: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "ordersync_watermark_timestamp_seconds",
			Help: "Watermark recorded by the last successful run as unix time",
		}),
		lastSuccessTime: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "ordersync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful sync run",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordRunStarted увеличивает счётчик запусков и число активных запусков.
func (m *SyncMetrics) RecordRunStarted() {
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// RecordRunFinished фиксирует завершение запуска.
func (m *SyncMetrics) RecordRunFinished(mode, status string, duration time.Duration) {
	m.activeRuns.Dec()
	m.runsFinished.WithLabelValues(mode, status).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// RecordStepDuration записывает время выполнения этапа запуска.
func (m *SyncMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordOrdersFetched добавляет число полученных записей.
func (m *SyncMetrics) RecordOrdersFetched(n int) {
	m.ordersFetched.Add(float64(n))
}

// RecordOrderProcessed увеличивает счётчик сохранённых заказов.
func (m *SyncMetrics) RecordOrderProcessed(outcome string, credits int) {
	m.ordersProcessed.WithLabelValues(outcome).Inc()
	m.creditsProcessed.Add(float64(credits))
}

// RecordOrderSkipped увеличивает счётчик пропущенных записей.
func (m *SyncMetrics) RecordOrderSkipped(stage string) {
	m.ordersSkipped.WithLabelValues(stage).Inc()
}

// RecordReplay фиксирует повторную обработку dead letter.
func (m *SyncMetrics) RecordReplay(result string) {
	m.replayed.WithLabelValues(result).Inc()
}

// RecordFetchAttempt фиксирует один запрос страницы (ok|retry|error).
func (m *SyncMetrics) RecordFetchAttempt(result string) {
	m.fetchAttempts.WithLabelValues(result).Inc()
}

// RecordSuccess выставляет watermark и время последнего успеха.
func (m *SyncMetrics) RecordSuccess(watermark *time.Time, at time.Time) {
	if watermark != nil {
		m.watermark.Set(float64(watermark.Unix()))
	}
	m.lastSuccessTime.Set(float64(at.Unix()))
}
