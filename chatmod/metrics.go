package chatmod

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messagesReceived = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sentry_messages_received",
	Help: "Number of inbound messages processed by the moderation pipeline",
})

var messagesFlagged = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sentry_messages_flagged",
	Help: "Number of messages flagged by a classifier",
})

var incidentsFailed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sentry_pipeline_incidents_failed",
	Help: "Number of flagged messages for which opening an incident failed",
})
