package services

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tbourn/offers-comments/internal/repo"
)

// Outcome labels of comments_operations_total.
const (
	resultOK           = "ok"
	resultInvalid      = "invalid"
	resultUnauthorized = "unauthorized"
	resultBadReference = "bad_reference"
	resultError        = "error"
)

// operations counts CommentService calls by operation and outcome.
var operations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "comments_operations_total",
		Help: "Discussion operations by operation and outcome.",
	},
	[]string{"op", "result"},
)

func init() {
	prometheus.MustRegister(operations)
}

// outcome classifies err into a bounded label value.
func outcome(err error) string {
	switch {
	case err == nil:
		return resultOK
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrNoSession):
		return resultUnauthorized
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrEmptyMessage),
		errors.Is(err, ErrMessageTooLong),
		errors.Is(err, ErrParentProfileMismatch),
		errors.Is(err, ErrParentNotTopLevel):
		return resultInvalid
	case repo.IsForeignKeyViolation(err):
		return resultBadReference
	default:
		return resultError
	}
}
