// internal/circulation/instrument.go
package circulation

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"librarydesk/internal/catalog"
	"librarydesk/internal/journal"
	"librarydesk/internal/membership"
)

const (
	metricOperations  = "library.circulation.operations"
	metricActiveLoans = "library.loans.active"
)

type instruments struct {
	operations  metric.Int64Counter
	activeLoans metric.Int64UpDownCounter
}

func newInstruments(m metric.Meter) (instruments, error) {
	var errs []error

	ops, err := m.Int64Counter(metricOperations,
		metric.WithDescription("Circulation operations by name and outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		errs = append(errs, err)
		ops, _ = noop.NewMeterProvider().Meter("").Int64Counter(metricOperations)
	}

	loans, err := m.Int64UpDownCounter(metricActiveLoans,
		metric.WithDescription("Copies currently on loan"),
		metric.WithUnit("{loan}"),
	)
	if err != nil {
		errs = append(errs, err)
		loans, _ = noop.NewMeterProvider().Meter("").Int64UpDownCounter(metricActiveLoans)
	}

	return instruments{operations: ops, activeLoans: loans}, errors.Join(errs...)
}

// begin opens the span for one engine operation.
func (e *Engine) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "circulation."+op, trace.WithAttributes(attrs...))
}

// end closes the span of op, recording err and counting the outcome.
func (e *Engine) end(ctx context.Context, span trace.Span, op string, err error) {
	result := outcome(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.DebugContext(ctx, "operation rejected", "op", op, "outcome", result, "error", err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(attribute.String("outcome", result))
	span.End()

	e.metrics.operations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", result),
	))
}

// outcome names the error kind of err for span and metric attributes.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, membership.ErrNotFound):
		return "not_found"
	case errors.Is(err, catalog.ErrDuplicateKey), errors.Is(err, membership.ErrDuplicateKey):
		return "duplicate_key"
	case errors.Is(err, catalog.ErrInvalidGenre):
		return "invalid_genre"
	case errors.Is(err, catalog.ErrInvalidCopies), errors.Is(err, catalog.ErrCopiesOnLoan):
		return "invalid_copies"
	case errors.Is(err, membership.ErrInvalidEmail):
		return "invalid_email"
	case errors.Is(err, catalog.ErrHasOutstandingLoans), errors.Is(err, membership.ErrHasOutstandingLoans):
		return "outstanding_loans"
	case errors.Is(err, ErrNoCopiesAvailable):
		return "no_copies"
	case errors.Is(err, ErrDuplicateLoan):
		return "duplicate_loan"
	case errors.Is(err, ErrBorrowLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, ErrNotBorrowed):
		return "not_borrowed"
	case errors.Is(err, membership.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, journal.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, ErrInconsistent):
		return "inconsistent"
	default:
		return "error"
	}
}
