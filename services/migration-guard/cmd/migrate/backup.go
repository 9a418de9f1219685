package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/repository"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/service"
	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/usecase"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/common"
)

func (c *cli) backupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage schema backups",
	}
	cmd.AddCommand(
		c.backupCreateCommand(),
		c.backupValidateCommand(),
		c.backupListCommand(),
		c.backupCleanupCommand(),
	)
	return cmd
}

func (c *cli) backupCreateCommand() *cobra.Command {
	var (
		version     string
		backupType  string
		includeData bool
		tables      []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Capture a schema backup for a version",
		Args:  cobra.NoArgs,
		RunE: c.withGuard(func(ctx context.Context, g *usecase.Guard, ec entity.ExecutionContext) error {
			b, err := g.Backups.CreateBackup(ctx, ec, service.BackupRequest{
				Version:     version,
				Type:        entity.BackupType(backupType),
				IncludeData: includeData,
				Tables:      tables,
			})
			if err != nil {
				return err
			}
			return c.printBackups(b, []*entity.Backup{b})
		}),
	}
	cmd.Flags().StringVar(&version, "version", "", "Migration version the backup belongs to")
	cmd.Flags().StringVar(&backupType, "type", string(entity.BackupTypePreMigration), "pre_migration, post_migration or rollback_point")
	cmd.Flags().BoolVar(&includeData, "include-data", false, "Record a row-count data estimate")
	cmd.Flags().StringSliceVar(&tables, "tables", nil, "Tables covered by the data estimate")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func (c *cli) backupValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate ID",
		Short: "Verify the checksum and payload of a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return common.ErrInvalidInput("id").WithCause(err)
			}
			return c.withGuard(func(ctx context.Context, g *usecase.Guard, ec entity.ExecutionContext) error {
				b, err := g.Backups.Validate(ctx, ec, id)
				if err != nil {
					return err
				}
				return c.printBackups(b, []*entity.Backup{b})
			})(cmd, args)
		},
	}
}

func (c *cli) backupListCommand() *cobra.Command {
	var filter struct {
		version string
		typ     string
		status  string
		limit   int
	}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: c.withGuard(func(ctx context.Context, g *usecase.Guard, ec entity.ExecutionContext) error {
			backups, err := g.Backups.List(ctx, repository.BackupFilter{
				Version: filter.version,
				Type:    entity.BackupType(filter.typ),
				Status:  entity.BackupStatus(filter.status),
				Limit:   filter.limit,
			})
			if err != nil {
				return err
			}
			return c.printBackups(backups, backups)
		}),
	}
	cmd.Flags().StringVar(&filter.version, "version", "", "Only backups of this version")
	cmd.Flags().StringVar(&filter.typ, "type", "", "Only backups of this type")
	cmd.Flags().StringVar(&filter.status, "status", "", "Only backups in this status")
	cmd.Flags().IntVar(&filter.limit, "limit", 50, "Maximum number of backups")
	return cmd
}

func (c *cli) backupCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Expire backups past their retention and delete their payloads",
		Args:  cobra.NoArgs,
		RunE: c.withGuard(func(ctx context.Context, g *usecase.Guard, ec entity.ExecutionContext) error {
			n, err := g.Backups.CleanupExpired(ctx, ec)
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return c.printJSON(map[string]int{"expired": n})
			}
			fmt.Fprintf(c.out, "expired %d backups\n", n)
			return nil
		}),
	}
}

func (c *cli) printBackups(v interface{}, backups []*entity.Backup) error {
	rows := make([][]string, 0, len(backups))
	for _, b := range backups {
		rows = append(rows, []string{
			b.ID.String(),
			b.Version,
			string(b.Type),
			string(b.Status),
			strconv.FormatInt(b.SizeBytes, 10),
			formatTime(&b.CreatedAt),
			formatTime(&b.ExpiresAt),
		})
	}
	return c.table(v, []string{"ID", "VERSION", "TYPE", "STATUS", "SIZE", "CREATED", "EXPIRES"}, rows)
}
