// Package metrics содержит Prometheus-метрики движка сигналов.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "confluence_cycles_total", Help: "Завершенные циклы планировщика по статусу"},
		[]string{"status"},
	)
	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "confluence_cycle_duration_seconds",
		Help:    "Длительность цикла оценка+проверка",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})
	FetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "confluence_candle_fetch_total", Help: "Запросы свечей по режиму источника"},
		[]string{"symbol", "mode"},
	)
	FetchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "confluence_candle_fetch_failures_total", Help: "Неудачные запросы свечей по причине"},
		[]string{"symbol", "reason"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "confluence_signals_total", Help: "Лучшие сигналы цикла по направлению"},
		[]string{"direction"},
	)
	GradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "confluence_grades_total", Help: "Оцененные сигналы по результату"},
		[]string{"outcome"},
	)
	GradesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "confluence_grades_skipped_total", Help: "Пропущенные проверки по причине"},
		[]string{"reason"},
	)
	PendingChecks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "confluence_pending_checks",
		Help: "Количество сигналов, ожидающих проверки (0 или 1)",
	})
	StreamClients = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "confluence_stream_clients",
		Help: "Подключенные клиенты потоковой выдачи",
	}, []string{"transport"})
)

func init() {
	prometheus.MustRegister(
		CyclesTotal, CycleDuration,
		FetchTotal, FetchFailures,
		SignalsTotal, GradesTotal, GradesSkipped, PendingChecks,
		StreamClients,
	)
}

// Handler возвращает HTTP-обработчик для /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
