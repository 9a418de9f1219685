package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	guardhttp "github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/delivery/http"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/usecase"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/common"
)

func (c *cli) healthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run every health category and print the report",
		Args:  cobra.NoArgs,
		RunE: c.withGuard(func(ctx context.Context, g *usecase.Guard, ec entity.ExecutionContext) error {
			report, err := g.Health.Run(ctx, ec)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(report.Results))
			for _, r := range report.Results {
				rows = append(rows, []string{string(r.Category), r.Name, string(r.Status), r.Message})
			}
			if err := c.table(report, []string{"CATEGORY", "CHECK", "STATUS", "MESSAGE"}, rows); err != nil {
				return err
			}
			if !c.jsonOutput {
				fmt.Fprintf(c.out, "overall %s, score %.1f (%d passed, %d warnings, %d failed, %d unknown)\n",
					report.Status, report.Score, report.Passed, report.Warnings, report.Failed, report.Unknown)
			}
			if report.Status == entity.HealthStatusFailed {
				return common.NewAppError(common.ErrCodeHealthCheck, fmt.Sprintf("%d health checks failed", report.Failed))
			}
			return nil
		}),
	}
}

func (c *cli) dashboardCommand() *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Summarise events, metrics and health over a window",
		Args:  cobra.NoArgs,
		RunE: c.withGuard(func(ctx context.Context, g *usecase.Guard, ec entity.ExecutionContext) error {
			dashboard, err := g.Bus.Dashboard(ctx, since)
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return c.printJSON(dashboard)
			}

			fmt.Fprintf(c.out, "window %s, %d events, %d unacknowledged alerts\n",
				dashboard.Window, dashboard.TotalEvents, dashboard.UnacknowledgedAlerts)
			if h := dashboard.SystemHealth; h != nil {
				fmt.Fprintf(c.out, "health %s\n", h.Status)
			}
			rows := make([][]string, 0, len(dashboard.Versions))
			for _, v := range dashboard.Versions {
				rows = append(rows, []string{v.Version, strconv.Itoa(v.Events), strconv.Itoa(v.Warnings), strconv.Itoa(v.Errors + v.Critical), string(v.LastEvent)})
			}
			return c.table(dashboard, []string{"VERSION", "EVENTS", "WARNINGS", "ERRORS", "LAST EVENT"}, rows)
		}),
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "Dashboard window")
	return cmd
}

func (c *cli) alertsCommand() *cobra.Command {
	var ack string
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List open alerts, or acknowledge one with --ack",
		Args:  cobra.NoArgs,
		RunE: c.withGuard(func(ctx context.Context, g *usecase.Guard, ec entity.ExecutionContext) error {
			if ack != "" {
				n, err := g.Bus.AcknowledgeAlert(ctx, ec, ack)
				if err != nil {
					return err
				}
				if c.jsonOutput {
					return c.printJSON(map[string]interface{}{"key": ack, "acknowledged": n})
				}
				fmt.Fprintf(c.out, "acknowledged %d events of %s\n", n, ack)
				return nil
			}

			alerts, err := g.Bus.GenerateAlerts(ctx)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(alerts))
			for _, a := range alerts {
				rows = append(rows, []string{a.Key, string(a.Severity), strconv.Itoa(a.Count), formatTime(&a.LastSeen), a.Message})
			}
			return c.table(alerts, []string{"KEY", "SEVERITY", "COUNT", "LAST SEEN", "MESSAGE"}, rows)
		}),
	}
	cmd.Flags().StringVar(&ack, "ack", "", "Acknowledge every event of the alert with this key")
	return cmd
}

func (c *cli) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin API and run the background jobs",
		Args:  cobra.NoArgs,
		RunE: c.withGuard(func(ctx context.Context, g *usecase.Guard, ec entity.ExecutionContext) error {
			if strings.TrimSpace(g.Config.HTTP.JWTSecret) == "" {
				return common.NewAppError(common.ErrCodeMissingRequired, "ADMIN_JWT_SECRET is required to serve the admin API")
			}
			server := guardhttp.NewServer(g, g.Config.HTTP, c.logger)

			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(server.Start)
			eg.Go(func() error {
				return g.RunScheduler(ctx)
			})
			eg.Go(func() error {
				<-ctx.Done()
				c.logger.Info("Shutting down admin API")
				return server.Shutdown(context.WithoutCancel(ctx))
			})

			if err := eg.Wait(); err != nil {
				c.logger.Error("Admin API stopped", zap.Error(err))
				return err
			}
			return nil
		}),
	}
}
