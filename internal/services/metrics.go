// Package services – pipeline metrics
//
// Prometheus instrumentation for the generation pipeline. Labels are kept
// to the provider id (closed set of three values) so cardinality stays
// bounded regardless of traffic.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// streamDur records full generation duration, from dispatch to terminal
	// event, in seconds by provider.
	streamDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_stream_duration_seconds",
			Help:    "Duration of chat generations in seconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"provider"},
	)

	// streamOutcomes counts terminal stream states by provider and outcome
	// (complete or error).
	streamOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_stream_outcomes_total",
			Help: "Total chat generations by terminal outcome.",
		},
		[]string{"provider", "outcome"},
	)

	// streamTokens counts provider-reported tokens by provider and direction
	// (input, output, cached_input).
	streamTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_stream_tokens_total",
			Help: "Total tokens reported by providers.",
		},
		[]string{"provider", "direction"},
	)

	// assembleTruncations counts prompt assemblies that had to drop history
	// or chunks to fit the context budget.
	assembleTruncations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_context_truncations_total",
			Help: "Total prompt assemblies that required truncation.",
		},
	)
)

func init() {
	prometheus.MustRegister(streamDur, streamOutcomes, streamTokens, assembleTruncations)
}
