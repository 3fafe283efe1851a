package classifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var textAPIDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "sentry_text_classifier_api_duration_sec",
	Help: "Duration of text classification API calls",
})

var textAPICount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentry_text_classifier_api_count",
	Help: "Number of text classification API calls, by HTTP status code",
}, []string{"status"})

var imageAPIDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "sentry_image_classifier_api_duration_sec",
	Help: "Duration of image classification API calls",
})

var imageAPICount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sentry_image_classifier_api_count",
	Help: "Number of image classification API calls, by HTTP status code",
}, []string{"status"})
