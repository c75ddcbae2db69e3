// Package walkthrough runs scripted circulation scenarios against a library
// and reports whether each behaved as expected.
package walkthrough

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"librarydesk/internal/circulation"
)

var ErrSteadyStateInvalid = errors.New("steady state invalid - aborting scenario")

// Scenario is a named sequence of steps and the hypothesis they demonstrate.
type Scenario struct {
	Name       string
	Hypothesis string
	Steps      []Step
}

// Step performs one operation. WantErr is the error kind it should fail
// with, or nil when it should succeed.
type Step struct {
	Name    string
	Run     func(ctx context.Context, svc circulation.Service) error
	WantErr error
}

type StepResult struct {
	Name     string `json:"name"`
	Expected string `json:"expected"`
	Error    string `json:"error,omitempty"`
	Passed   bool   `json:"passed"`
}

// Result captures one scenario run.
type Result struct {
	Scenario         string        `json:"scenario"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time"`
	Duration         time.Duration `json:"duration"`
	HypothesisHeld   bool          `json:"hypothesis_held"`
	SteadyStateValid bool          `json:"steady_state_valid"`
	Steps            []StepResult  `json:"steps"`
	Violations       []string      `json:"violations"`
}

// Runner executes scenarios against one service.
type Runner struct {
	svc    circulation.Service
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

func NewRunner(svc circulation.Service, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		svc:    svc,
		logger: logger,
		tracer: otel.Tracer("librarydesk/walkthrough"),
		now:    time.Now,
	}
}

// Run checks the steady state, runs every step, then checks the steady
// state again. It returns ErrSteadyStateInvalid without running any step
// when the library is inconsistent to begin with.
func (r *Runner) Run(ctx context.Context, s Scenario) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "walkthrough.run_scenario",
		trace.WithAttributes(attribute.String("scenario.name", s.Name)),
	)
	defer span.End()

	result := &Result{
		Scenario:  s.Name,
		StartTime: r.now(),
		Steps:     make([]StepResult, 0, len(s.Steps)),
	}

	span.AddEvent("validating_steady_state")
	if err := r.svc.Audit(ctx); err != nil {
		result.Violations = append(result.Violations, err.Error())
		span.RecordError(err)
		return result, fmt.Errorf("%s: %w: %w", s.Name, ErrSteadyStateInvalid, err)
	}
	result.SteadyStateValid = true

	span.AddEvent("running_steps")
	held := true
	for _, step := range s.Steps {
		sr := runStep(ctx, r.svc, step)
		if !sr.Passed {
			held = false
			result.Violations = append(result.Violations,
				fmt.Sprintf("%s: expected %s, got %s", step.Name, sr.Expected, describe(sr.Error)))
		}
		result.Steps = append(result.Steps, sr)
	}

	span.AddEvent("validating_invariants")
	if err := r.svc.Audit(ctx); err != nil {
		held = false
		result.Violations = append(result.Violations, err.Error())
		span.RecordError(err)
	}

	result.HypothesisHeld = held
	result.EndTime = r.now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	return result, nil
}

func runStep(ctx context.Context, svc circulation.Service, step Step) StepResult {
	sr := StepResult{Name: step.Name, Expected: "success"}
	if step.WantErr != nil {
		sr.Expected = step.WantErr.Error()
	}

	err := step.Run(ctx, svc)
	if err != nil {
		sr.Error = err.Error()
	}
	if step.WantErr == nil {
		sr.Passed = err == nil
	} else {
		sr.Passed = errors.Is(err, step.WantErr)
	}
	return sr
}

func describe(errText string) string {
	if errText == "" {
		return "success"
	}
	return errText
}

// RunAll runs scenarios in order, logging each outcome. A scenario that
// cannot start is logged and skipped. The returned error joins every
// scenario whose hypothesis did not hold.
func (r *Runner) RunAll(ctx context.Context, scenarios []Scenario) ([]Result, error) {
	ctx, span := r.tracer.Start(ctx, "walkthrough.run_all",
		trace.WithAttributes(attribute.Int("scenario.count", len(scenarios))),
	)
	defer span.End()

	var (
		results []Result
		failed  []error
	)
	for i, s := range scenarios {
		r.logger.InfoContext(ctx, "running scenario",
			"index", i+1, "total", len(scenarios), "name", s.Name, "hypothesis", s.Hypothesis)

		result, err := r.Run(ctx, s)
		if err != nil {
			r.logger.ErrorContext(ctx, "scenario aborted", "name", s.Name, "error", err)
			failed = append(failed, err)
			continue
		}
		results = append(results, *result)

		for _, sr := range result.Steps {
			r.logger.DebugContext(ctx, "step", "scenario", s.Name, "step", sr.Name,
				"expected", sr.Expected, "error", sr.Error, "passed", sr.Passed)
		}
		if result.HypothesisHeld {
			r.logger.InfoContext(ctx, "hypothesis held", "name", s.Name, "steps", len(result.Steps), "duration", result.Duration)
		} else {
			r.logger.WarnContext(ctx, "hypothesis violated", "name", s.Name, "violations", result.Violations)
			failed = append(failed, fmt.Errorf("%s: %d violations", s.Name, len(result.Violations)))
		}
	}

	return results, errors.Join(failed...)
}
