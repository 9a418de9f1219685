package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JAAFAR1996/ai-instgram--sub007/pkg/logging"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/config"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/usecase"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/common"
)

// Build information, set with -ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code
func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := &cli{out: stdout}
	root := c.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if !c.started {
		err = usageError(err)
	}
	if closeErr := c.close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		printError(stderr, err)
		return exitCode(err)
	}
	return 0
}

// cli holds the global flags and the lazily opened guard
type cli struct {
	configPath string
	actor      string
	tenant     string
	admin      bool
	jsonOutput bool

	// started is set once a command body runs
	started bool

	out    io.Writer
	cfg    *config.Config
	guard  *usecase.Guard
	logger *zap.Logger
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "migrate",
		Short: "Migration risk management",
		Long: "Applies database migrations under backup, audit and rollback protection, " +
			"and runs disaster recovery plans.",
		Version:       fmt.Sprintf("%s (commit %s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", ".", "Config file or directory")
	flags.StringVar(&c.actor, "actor", "", "Actor recorded in the audit log (defaults to $USER)")
	flags.StringVar(&c.tenant, "tenant", "", "Tenant the operation acts for")
	flags.BoolVar(&c.admin, "admin", false, "Act with administrative rights")
	flags.BoolVar(&c.jsonOutput, "json", false, "Print results as JSON")

	root.AddCommand(
		c.applyCommand(),
		c.statusCommand(),
		c.rollbackCommand(),
		c.backupCommand(),
		c.drCommand(),
		c.healthCommand(),
		c.dashboardCommand(),
		c.alertsCommand(),
		c.serveCommand(),
	)
	return root
}

// open loads the configuration and connects the guard on first use
func (c *cli) open(ctx context.Context) (*usecase.Guard, error) {
	if c.guard != nil {
		return c.guard, nil
	}

	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	cfg.Logging.ServiceVersion = Version
	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, err
	}

	g, err := usecase.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	c.cfg, c.guard, c.logger = cfg, g, logger
	return g, nil
}

func (c *cli) close() error {
	if c.guard == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := c.guard.Close(ctx)
	_ = c.logger.Sync()
	c.guard = nil
	return err
}

// executionContext builds the caller's context from the global flags
func (c *cli) executionContext() entity.ExecutionContext {
	var configured string
	if c.cfg != nil {
		configured = c.cfg.Service.Actor
	}
	return entity.ExecutionContext{
		Actor:         common.Coalesce(strings.TrimSpace(c.actor), configured, os.Getenv("USER"), entity.SystemActor),
		TenantID:      c.tenant,
		IsAdmin:       c.admin,
		CorrelationID: logging.NewCorrelationID(),
	}
}

// withGuard opens the guard and runs fn with the caller's context
func (c *cli) withGuard(fn func(ctx context.Context, g *usecase.Guard, ec entity.ExecutionContext) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c.started = true
		g, err := c.open(cmd.Context())
		if err != nil {
			return err
		}
		ec := c.executionContext()
		ctx := logging.WithCorrelationID(cmd.Context(), ec.CorrelationID)
		ctx = logging.WithActor(ctx, ec.Actor)
		if ec.TenantID != "" {
			ctx = logging.WithTenantID(ctx, ec.TenantID)
		}
		return fn(ctx, g, ec)
	}
}

func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// table prints rows with the header unless --json is set, in which case v is
// printed instead
func (c *cli) table(v interface{}, header []string, rows [][]string) error {
	if c.jsonOutput {
		return c.printJSON(v)
	}
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
