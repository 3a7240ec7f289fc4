package gate

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/devmartsuriname/agenko-proposals/pkg/domain"
)

var decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "proposal_gate_decisions_total",
	Help: "Access gate outcomes by action.",
}, []string{"action", "outcome"})

func observeDecision(action domain.Action, err error) {
	decisions.WithLabelValues(string(action), outcomeLabel(err)).Inc()
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, domain.ErrExpired):
		return "expired"
	case errors.Is(err, domain.ErrAlreadyResolved):
		return "already_resolved"
	case domain.IsValidation(err):
		return "validation"
	default:
		return "error"
	}
}
