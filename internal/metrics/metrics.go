// Package metrics exposes Prometheus collectors for the auth core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginAttempts counts verification outcomes by method.
	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xauth",
		Name:      "login_attempts_total",
		Help:      "Credential verification attempts by method and outcome.",
	}, []string{"method", "outcome"})

	// ChallengesSent counts out-of-band device challenges delivered.
	ChallengesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "xauth",
		Name:      "device_challenges_sent_total",
		Help:      "Out-of-band device verification challenges delivered.",
	})

	// SessionsIssued counts signed session tokens issued.
	SessionsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "xauth",
		Name:      "sessions_issued_total",
		Help:      "Signed session tokens issued.",
	})
)
