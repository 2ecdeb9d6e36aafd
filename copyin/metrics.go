package copyin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var importSessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pgsink_copy_sessions_started_total",
	Help: "Number of binary COPY import sessions opened",
})

var importSessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pgsink_copy_sessions_finished_total",
	Help: "Number of binary COPY import sessions finished, by outcome",
}, []string{"outcome"})

var importRows = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pgsink_copy_rows_total",
	Help: "Number of rows the server reported as imported",
})

var importBytes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "pgsink_copy_bytes_total",
	Help: "Number of copy-data payload bytes flushed to the server",
})

func observeSessionStarted() {
	importSessionsStarted.Inc()
}

func observeSessionFinished(outcome string, rows, bytes int64) {
	importSessionsFinished.WithLabelValues(outcome).Inc()
	if rows > 0 {
		importRows.Add(float64(rows))
	}
	if bytes > 0 {
		importBytes.Add(float64(bytes))
	}
}
