package escalation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var incidentsOpened = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sentry_incidents_opened",
	Help: "Number of escalation incidents opened",
})

var incidentsAborted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sentry_incidents_aborted",
	Help: "Number of incidents aborted because the challenge backend refused the report",
})

var incidentsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentry_incidents_resolved",
	Help: "Number of incidents resolved, by outcome",
}, []string{"outcome"})

var challengeAPICount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentry_challenge_api_count",
	Help: "Number of challenge backend API calls, by endpoint and HTTP status code",
}, []string{"endpoint", "status"})
