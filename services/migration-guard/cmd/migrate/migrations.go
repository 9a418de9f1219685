package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/service"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/usecase"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/common"
)

func (c *cli) applyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Apply pending migrations",
		Long: "Applies every pending migration of the configured directory in version order. " +
			"Critical migrations are preceded by a pre_migration backup.",
		Args: cobra.NoArgs,
		RunE: c.withGuard(func(ctx context.Context, g *usecase.Guard, ec entity.ExecutionContext) error {
			report, err := g.Apply(ctx, ec)
			if report != nil {
				if printErr := c.printApplyReport(report); printErr != nil {
					return printErr
				}
			}
			return err
		}),
	}
}

func (c *cli) printApplyReport(report *service.ApplyReport) error {
	results := append([]service.UnitResult(nil), report.Applied...)
	if report.Failed != nil {
		results = append(results, *report.Failed)
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		backupID := "-"
		if r.BackupID != nil {
			backupID = r.BackupID.String()
		}
		rows = append(rows, []string{r.Version, r.Name, string(r.Status), strconv.Itoa(r.Statements), r.Duration.String(), backupID})
	}
	if err := c.table(report, []string{"VERSION", "NAME", "STATUS", "STATEMENTS", "DURATION", "BACKUP"}, rows); err != nil {
		return err
	}
	if c.jsonOutput {
		return nil
	}
	if len(report.Skipped) > 0 {
		fmt.Fprintf(c.out, "skipped %d already applied\n", len(report.Skipped))
	}
	if report.Rollback != nil {
		fmt.Fprintf(c.out, "automatic rollback %s: %s\n", report.Rollback.ID, report.Rollback.Status)
	}
	return nil
}

func (c *cli) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the latest run of every version and the pending migrations",
		Args:  cobra.NoArgs,
		RunE: c.withGuard(func(ctx context.Context, g *usecase.Guard, ec entity.ExecutionContext) error {
			runs, err := g.Executor.Status(ctx)
			if err != nil {
				return err
			}
			pending, err := g.Pending(ctx)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(runs)+len(pending))
			for _, r := range runs {
				rows = append(rows, []string{r.Version, r.Name, string(r.Status), r.ExecutedBy, formatTime(&r.StartedAt), r.Duration.String()})
			}
			for _, u := range pending {
				rows = append(rows, []string{u.Version, u.Name, "PENDING", "-", "-", "-"})
			}
			return c.table(map[string]interface{}{"runs": runs, "pending": pending},
				[]string{"VERSION", "NAME", "STATUS", "EXECUTED BY", "STARTED", "DURATION"}, rows)
		}),
	}
}

func (c *cli) rollbackCommand() *cobra.Command {
	var (
		version  string
		backupID string
		dryRun   bool
		yes      bool
		reason   string
	)

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll a migration version back",
		Long: "Generates a rollback plan for the version and executes it. Plans that carry data " +
			"loss risk require --yes. --dry-run simulates every mutating step.",
		Args: cobra.NoArgs,
		RunE: c.withGuard(func(ctx context.Context, g *usecase.Guard, ec entity.ExecutionContext) error {
			req := usecase.RollbackRequest{
				Version:     version,
				DryRun:      dryRun,
				AutoApprove: yes,
				Reason:      reason,
			}
			if backupID != "" {
				id, err := uuid.Parse(backupID)
				if err != nil {
					return common.ErrInvalidInput("backup").WithCause(err)
				}
				req.BackupID = id
			}

			plan, execution, err := g.RollbackVersion(ctx, ec, req)
			if plan != nil && !c.jsonOutput {
				c.printPlan(plan)
			}
			if execution != nil {
				if printErr := c.printRollback(execution); printErr != nil {
					return printErr
				}
			}
			return err
		}),
	}
	cmd.Flags().StringVar(&version, "version", "", "Migration version to roll back")
	cmd.Flags().StringVar(&backupID, "backup", "", "Backup to restore instead of the latest usable one")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Simulate the rollback")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Approve plans that require approval")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in the audit log")
	_ = cmd.MarkFlagRequired("version")

	cmd.AddCommand(c.rollbackValidateCommand())
	return cmd
}

func (c *cli) rollbackValidateCommand() *cobra.Command {
	var executionID string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Re-validate the database state after a rollback execution",
		Args:  cobra.NoArgs,
		RunE: c.withGuard(func(ctx context.Context, g *usecase.Guard, ec entity.ExecutionContext) error {
			id, err := uuid.Parse(executionID)
			if err != nil {
				return common.ErrInvalidInput("execution").WithCause(err)
			}
			result, err := g.Rollback.ValidateState(ctx, id)
			if err != nil {
				return err
			}
			if err := c.printJSON(result); err != nil {
				return err
			}
			if !result.Passed {
				return common.ErrValidationFailed(fmt.Sprintf("%d validation checks failed", len(result.Failed())))
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&executionID, "execution", "", "Rollback execution id")
	_ = cmd.MarkFlagRequired("execution")
	return cmd
}

func (c *cli) printPlan(plan *entity.RollbackPlan) {
	fmt.Fprintf(c.out, "plan %s for version %s (data loss risk %s, approval required: %t)\n",
		plan.ID, plan.Version, plan.DataLossRisk, plan.RequiresApproval)
	for i, step := range plan.Steps {
		fmt.Fprintf(c.out, "  %d. %s [%s]\n", i+1, step.Name, step.Action)
	}
}

func (c *cli) printRollback(execution *entity.RollbackExecution) error {
	if err := c.table(execution, stepHeader, stepRows(execution.ExecutedSteps, execution.FailedSteps)); err != nil {
		return err
	}
	if !c.jsonOutput {
		fmt.Fprintf(c.out, "execution %s: %s\n", execution.ID, execution.Status)
	}
	return nil
}

var stepHeader = []string{"#", "STEP", "ACTION", "STATUS", "DURATION", "NOTE"}

// stepRows merges executed and failed step results in plan order
func stepRows(executed, failed []entity.StepResult) [][]string {
	results := append(append([]entity.StepResult(nil), executed...), failed...)
	sort.SliceStable(results, func(i, j int) bool { return results[i].Order < results[j].Order })

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			strconv.Itoa(r.Order),
			r.Name,
			string(r.Action),
			string(r.Status),
			r.Duration.String(),
			common.Coalesce(r.Error, r.Note, "-"),
		})
	}
	return rows
}
