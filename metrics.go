// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package ipkchat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// sessionMetrics record session activity counters. They are shared by all
// sessions in the process and registered with the default registry.
type sessionMetrics struct {
	messagesSent     *prometheus.CounterVec // by kind
	messagesRecv     *prometheus.CounterVec // by kind
	sendFailures     *prometheus.CounterVec // by kind
	stateChanges     *prometheus.CounterVec // by new state
	violations       prometheus.Counter
	replyTimeouts    prometheus.Counter
	sessionsActive   prometheus.Gauge
	commandsRejected prometheus.Counter
}

var rootMetrics = sessionMetrics{
	messagesSent: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipkchat_messages_sent_total",
		Help: "Number of messages sent to the server",
	}, []string{"kind"}),
	messagesRecv: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipkchat_messages_received_total",
		Help: "Number of messages received from the server",
	}, []string{"kind"}),
	sendFailures: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipkchat_send_failures_total",
		Help: "Number of messages whose delivery was not acknowledged",
	}, []string{"kind"}),
	stateChanges: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ipkchat_state_changes_total",
		Help: "Number of session state transitions, by target state",
	}, []string{"state"}),
	violations: promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipkchat_protocol_violations_total",
		Help: "Number of fatal protocol violations detected",
	}),
	replyTimeouts: promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipkchat_reply_timeouts_total",
		Help: "Number of requests that received no reply in time",
	}),
	sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ipkchat_sessions_active",
		Help: "Number of sessions currently running",
	}),
	commandsRejected: promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipkchat_commands_rejected_total",
		Help: "Number of user commands not valid in the current state",
	}),
}
