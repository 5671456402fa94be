package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_cycles_total",
		Help: "Completed news cycles.",
	})

	itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_items_total",
		Help: "Processed items by decision code.",
	}, []string{"code"})

	signalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_signals_sent_total",
		Help: "Signals created and broadcast.",
	})
)
