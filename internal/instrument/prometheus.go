// SPDX-FileCopyrightText: Copyright (C) 2026  The nsclient Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package instrument holds the prometheus counters of a protocol run.
package instrument

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes of a run.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	registry = prometheus.NewRegistry()

	runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsclient_runs_total",
			Help: "Number of protocol runs by outcome",
		},
		[]string{"outcome"},
	)
	stepFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsclient_step_failures_total",
			Help: "Number of failed protocol runs by failed step and error kind",
		},
		[]string{"state", "kind"},
	)
	wireBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsclient_wire_bytes_total",
			Help: "Number of protocol bytes moved, by direction",
		},
		[]string{"direction"},
	)
	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsclient_messages_total",
			Help: "Number of protocol messages by wire type and direction",
		},
		[]string{"type", "direction"},
	)
	runDuration = prometheus.NewSummary(
		prometheus.SummaryOpts{
			Name: "nsclient_run_duration_seconds",
			Help: "Wall clock duration of protocol runs",
		},
	)
)

func init() {
	registry.MustRegister(runs)
	registry.MustRegister(stepFailures)
	registry.MustRegister(wireBytes)
	registry.MustRegister(messages)
	registry.MustRegister(runDuration)
}

// Registry returns the registry holding every nsclient metric.
func Registry() *prometheus.Registry {
	return registry
}

// Run counts a finished run and its duration.
func Run(outcome string, seconds float64) {
	runs.With(prometheus.Labels{"outcome": outcome}).Inc()
	runDuration.Observe(seconds)
}

// StepFailure counts a run that failed in state with an error of kind.
func StepFailure(state, kind string) {
	stepFailures.With(prometheus.Labels{"state": state, "kind": kind}).Inc()
}

// WireBytes adds the bytes moved by one run.
func WireBytes(sent, received uint64) {
	wireBytes.With(prometheus.Labels{"direction": "sent"}).Add(float64(sent))
	wireBytes.With(prometheus.Labels{"direction": "received"}).Add(float64(received))
}

// Message counts one message of wire type t.
func Message(t uint16, sent bool) {
	direction := "received"
	if sent {
		direction = "sent"
	}
	messages.With(prometheus.Labels{"type": strconv.Itoa(int(t)), "direction": direction}).Inc()
}

// WriteTextFile writes every metric to path in the text exposition format
// read by the node_exporter textfile collector.
func WriteTextFile(path string) error {
	return prometheus.WriteToTextfile(path, registry)
}
