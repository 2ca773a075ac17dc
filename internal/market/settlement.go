package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type compensation struct {
	name string
	undo func(ctx context.Context) error
}

// journal records the compensations for the effects an operation has
// applied so far. unwind runs them newest first.
type journal struct {
	op     string
	logger *slog.Logger
	steps  []compensation
}

func newJournal(op string, logger *slog.Logger) *journal {
	return &journal{op: op, logger: logger}
}

func (j *journal) add(name string, undo func(ctx context.Context) error) {
	j.steps = append(j.steps, compensation{name: name, undo: undo})
}

// unwind runs every compensation even if an earlier one fails. Compensations
// ignore cancellation of the caller's context.
func (j *journal) unwind(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(j.steps) - 1; i >= 0; i-- {
		step := j.steps[i]
		if err := step.undo(ctx); err != nil {
			j.logger.ErrorContext(ctx, "market: compensation failed",
				slog.String("op", j.op),
				slog.String("step", step.name),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("undo %s: %w", step.name, err))
		}
	}
	j.steps = nil
	return errors.Join(errs...)
}
