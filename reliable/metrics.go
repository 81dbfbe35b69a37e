// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package reliable

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// reliabilityMetrics record datagram acknowledgement activity. They are
// shared by all trackers in the process.
type reliabilityMetrics struct {
	retransmits prometheus.Counter
	unconfirmed prometheus.Counter
	staleAcks   prometheus.Counter
	duplicates  prometheus.Counter
}

var trackerMetrics = reliabilityMetrics{
	retransmits: promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipkchat_retransmits_total",
		Help: "Number of datagrams resent for lack of confirmation",
	}),
	unconfirmed: promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipkchat_unconfirmed_total",
		Help: "Number of reliable sends that exhausted their attempts",
	}),
	staleAcks: promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipkchat_stale_confirms_total",
		Help: "Number of confirmations received for messages not pending",
	}),
	duplicates: promauto.NewCounter(prometheus.CounterOpts{
		Name: "ipkchat_duplicates_suppressed_total",
		Help: "Number of inbound messages suppressed as duplicates",
	}),
}
