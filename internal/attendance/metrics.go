package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var validationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "attendance_validations_total",
	Help: "Validation outcomes by kind (success, rejection kind, or storage_error).",
}, []string{"outcome"})

func observeOutcome(err error) {
	switch {
	case err == nil:
		validationsTotal.WithLabelValues("success").Inc()
	default:
		if r, ok := AsRejection(err); ok {
			validationsTotal.WithLabelValues(string(r.Kind)).Inc()
			return
		}
		validationsTotal.WithLabelValues("storage_error").Inc()
	}
}
