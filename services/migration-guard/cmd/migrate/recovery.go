package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/service"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/usecase"
)

func (c *cli) drCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dr",
		Short: "Disaster recovery plans and executions",
	}
	cmd.AddCommand(
		c.drRehearseCommand(entity.DRExecutionTest),
		c.drRehearseCommand(entity.DRExecutionDrill),
		c.drExecuteCommand(),
		c.drDetectCommand(),
		c.drPlansCommand(),
		c.drLoadCommand(),
		c.drPlanStatusCommand(),
		c.drHistoryCommand(),
		c.drEmergencyRollbackCommand(),
	)
	return cmd
}

// drRehearseCommand builds the test and drill commands. Both simulate every
// mutating step.
func (c *cli) drRehearseCommand(kind entity.DRExecutionType) *cobra.Command {
	var plan, description string
	cmd := &cobra.Command{
		Use:   string(kind),
		Short: fmt.Sprintf("Run a recovery plan as a %s", kind),
		Args:  cobra.NoArgs,
		RunE: c.withGuard(func(ctx context.Context, g *usecase.Guard, ec entity.ExecutionContext) error {
			execution, err := g.Recovery.Execute(ctx, ec, service.DRRequest{
				PlanName:    plan,
				Description: description,
				Type:        kind,
			})
			return c.finishDR(execution, err)
		}),
	}
	cmd.Flags().StringVar(&plan, "plan", "", "Recovery plan name")
	cmd.Flags().StringVar(&description, "description", "", "Description recorded with the execution")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func (c *cli) drExecuteCommand() *cobra.Command {
	var (
		plan    string
		reason  string
		version string
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Execute a recovery plan against an actual disaster",
		Args:  cobra.NoArgs,
		RunE: c.withGuard(func(ctx context.Context, g *usecase.Guard, ec entity.ExecutionContext) error {
			execution, err := g.Recovery.Execute(ctx, ec, service.DRRequest{
				PlanName:    plan,
				Description: reason,
				Type:        entity.DRExecutionActualDisaster,
				DryRun:      dryRun,
				Version:     version,
			})
			return c.finishDR(execution, err)
		}),
	}
	cmd.Flags().StringVar(&plan, "plan", "", "Recovery plan name")
	cmd.Flags().StringVar(&reason, "reason", "", "Incident description")
	cmd.Flags().StringVar(&version, "version", "", "Migration version restore steps roll back")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Simulate every mutating step")
	_ = cmd.MarkFlagRequired("plan")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func (c *cli) finishDR(execution *entity.DisasterRecoveryExecution, err error) error {
	if execution != nil {
		if printErr := c.table(execution, stepHeader, stepRows(execution.ExecutedSteps, execution.FailedSteps)); printErr != nil {
			return printErr
		}
		if !c.jsonOutput {
			fmt.Fprintf(c.out, "execution %s: %s in %s (RTO met: %t)\n",
				execution.ID, execution.Status, execution.RecoveryTime, execution.RTOMet)
		}
	}
	return err
}

func (c *cli) drDetectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "List suspected disasters from recent telemetry",
		Args:  cobra.NoArgs,
		RunE: c.withGuard(func(ctx context.Context, g *usecase.Guard, ec entity.ExecutionContext) error {
			candidates, err := g.Recovery.Detect(ctx)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(candidates))
			for _, cand := range candidates {
				rows = append(rows, []string{
					string(cand.DisasterType),
					strconv.FormatFloat(cand.Confidence, 'f', 2, 64),
					cand.RecommendedPlan,
					strconv.Itoa(len(cand.Evidence)),
				})
			}
			return c.table(candidates, []string{"DISASTER", "CONFIDENCE", "RECOMMENDED PLAN", "EVIDENCE"}, rows)
		}),
	}
}

func (c *cli) drPlansCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List recovery plans",
		Args:  cobra.NoArgs,
		RunE: c.withGuard(func(ctx context.Context, g *usecase.Guard, ec entity.ExecutionContext) error {
			plans, err := g.Recovery.Plans(ctx)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(plans))
			for _, p := range plans {
				rows = append(rows, []string{
					p.Name,
					string(p.DisasterType),
					string(p.Severity),
					string(p.Status),
					p.RTO.String(),
					p.RPO.String(),
					formatTime(p.LastTested),
				})
			}
			return c.table(plans, []string{"NAME", "DISASTER", "SEVERITY", "STATUS", "RTO", "RPO", "LAST TESTED"}, rows)
		}),
	}
}

func (c *cli) drLoadCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Create or replace recovery plans from a YAML catalogue",
		Args:  cobra.NoArgs,
		RunE: c.withGuard(func(ctx context.Context, g *usecase.Guard, ec entity.ExecutionContext) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read catalogue: %w", err)
			}
			plans, err := g.Recovery.LoadCatalog(ctx, ec, data)
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return c.printJSON(plans)
			}
			fmt.Fprintf(c.out, "loaded %d plans from %s\n", len(plans), file)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Catalogue file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (c *cli) drPlanStatusCommand() *cobra.Command {
	var plan, status string
	cmd := &cobra.Command{
		Use:   "set-status",
		Short: "Activate or retire a recovery plan",
		Args:  cobra.NoArgs,
		RunE: c.withGuard(func(ctx context.Context, g *usecase.Guard, ec entity.ExecutionContext) error {
			updated, err := g.Recovery.SetPlanStatus(ctx, ec, plan, entity.PlanStatus(status))
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return c.printJSON(updated)
			}
			fmt.Fprintf(c.out, "plan %s is %s\n", updated.Name, updated.Status)
			return nil
		}),
	}
	cmd.Flags().StringVar(&plan, "plan", "", "Recovery plan name")
	cmd.Flags().StringVar(&status, "status", "", "active, inactive or under_review")
	_ = cmd.MarkFlagRequired("plan")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func (c *cli) drHistoryCommand() *cobra.Command {
	var plan string
	var incidents bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recovery executions, or the incident log with --incidents",
		Args:  cobra.NoArgs,
		RunE: c.withGuard(func(ctx context.Context, g *usecase.Guard, ec entity.ExecutionContext) error {
			if incidents {
				records, err := g.Recovery.Incidents(ctx)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(records))
				for _, r := range records {
					rows = append(rows, []string{formatTime(&r.OccurredAt), r.PlanName, string(r.DisasterType), string(r.Status), r.RecoveryTime.String(), r.ReportedBy})
				}
				return c.table(records, []string{"OCCURRED", "PLAN", "DISASTER", "STATUS", "RECOVERY TIME", "REPORTED BY"}, rows)
			}

			executions, err := g.Recovery.Executions(ctx, plan)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(executions))
			for _, e := range executions {
				rows = append(rows, []string{e.ID.String(), e.PlanName, string(e.Type), string(e.Status), formatTime(&e.StartedAt), strconv.FormatBool(e.RTOMet)})
			}
			return c.table(executions, []string{"ID", "PLAN", "TYPE", "STATUS", "STARTED", "RTO MET"}, rows)
		}),
	}
	cmd.Flags().StringVar(&plan, "plan", "", "Only executions of this plan")
	cmd.Flags().BoolVar(&incidents, "incidents", false, "List recorded incidents instead")
	return cmd
}

func (c *cli) drEmergencyRollbackCommand() *cobra.Command {
	var version, reason string
	cmd := &cobra.Command{
		Use:   "emergency-rollback",
		Short: "Roll a version back to its latest backup without approval",
		Args:  cobra.NoArgs,
		RunE: c.withGuard(func(ctx context.Context, g *usecase.Guard, ec entity.ExecutionContext) error {
			execution, err := g.Recovery.EmergencyRollback(ctx, ec, version, reason)
			if execution != nil {
				if printErr := c.printRollback(execution); printErr != nil {
					return printErr
				}
			}
			return err
		}),
	}
	cmd.Flags().StringVar(&version, "version", "", "Migration version to roll back")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded in the audit log")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}
