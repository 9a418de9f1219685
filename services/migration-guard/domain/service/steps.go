package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
)

// StepFunc performs one step. The returned note is recorded on the step result.
type StepFunc func(ctx context.Context, step entity.Step) (note string, err error)

// StepHandlers maps handler names to implementations of custom steps
type StepHandlers map[string]StepFunc

// stepOutcome is what a plan run produced
type stepOutcome struct {
	Executed []entity.StepResult
	Failed   []entity.StepResult
	// CriticalErr is set when a critical step failed and the run halted
	CriticalErr error
	// Interrupted is set when ctx ended before every step was attempted
	Interrupted error
}

// Succeeded reports whether every attempted step succeeded and all steps ran
func (o *stepOutcome) Succeeded() bool {
	return o.CriticalErr == nil && o.Interrupted == nil && len(o.Failed) == 0
}

// FailedNames returns the names of the failed steps
func (o *stepOutcome) FailedNames() []string {
	names := make([]string, 0, len(o.Failed))
	for _, r := range o.Failed {
		names = append(names, r.Name)
	}
	return names
}

// stepRunner executes ordered steps with the shared rules used by rollback and
// recovery plans: manual steps are recorded as skipped, mutating steps are
// simulated in dry-run, and a critical failure halts the run.
type stepRunner struct {
	logger *zap.Logger
	now    func() time.Time
}

func (r stepRunner) run(ctx context.Context, steps []entity.Step, dryRun bool, exec StepFunc) stepOutcome {
	var outcome stepOutcome

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			outcome.Interrupted = err
			break
		}

		result := entity.StepResult{
			StepID:    step.ID,
			Order:     step.Order,
			Name:      step.Name,
			Action:    step.Action,
			Critical:  step.Critical,
			Status:    entity.StepStatusStarted,
			StartedAt: r.now(),
		}
		r.logger.Info("Step started",
			zap.Int("order", step.Order),
			zap.String("step", step.Name),
			zap.String("action", string(step.Action)),
			zap.Bool("critical", step.Critical),
			zap.Bool("dry_run", dryRun))

		var err error
		switch {
		case step.Action == entity.StepActionManual:
			result.Status = entity.StepStatusSkipped
			result.Note = "manual step: " + step.Description
		case dryRun && step.Action.Mutating():
			result.Status = entity.StepStatusSimulated
			result.Note = fmt.Sprintf("dry-run: %s not performed", step.Action)
		default:
			result.Note, err = exec(ctx, step)
			if err != nil {
				result.Status = entity.StepStatusFailed
				result.Error = err.Error()
			} else {
				result.Status = entity.StepStatusCompleted
			}
		}

		completed := r.now()
		result.CompletedAt = &completed
		result.Duration = completed.Sub(result.StartedAt)

		if err == nil {
			outcome.Executed = append(outcome.Executed, result)
			r.logger.Debug("Step finished",
				zap.Int("order", step.Order),
				zap.String("step", step.Name),
				zap.String("status", string(result.Status)))
			continue
		}

		outcome.Failed = append(outcome.Failed, result)
		r.logger.Warn("Step failed",
			zap.Int("order", step.Order),
			zap.String("step", step.Name),
			zap.Bool("critical", step.Critical),
			zap.Error(err))

		if ctxErr := ctx.Err(); ctxErr != nil {
			outcome.Interrupted = ctxErr
			break
		}
		if step.Critical {
			outcome.CriticalErr = entity.NewStepExecutionError(step.Name, step.Order, err)
			break
		}
	}

	return outcome
}
