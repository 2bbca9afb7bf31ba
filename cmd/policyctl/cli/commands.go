package cli

import (
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/foursyz/policyd/internal/app"
	"github.com/foursyz/policyd/internal/evaluator"
	"github.com/foursyz/policyd/internal/platform/db"
	"github.com/foursyz/policyd/jobs"
)

var errNeedsPostgres = errors.New("command requires STORE_DRIVER=postgres")

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withContainer(cmd, func(c *app.Container) error {
				if c.Pool == nil {
					return errNeedsPostgres
				}
				if err := db.RunMigrations(c.Pool); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return err
			})
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show schema migration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withContainer(cmd, func(c *app.Container) error {
				if c.Pool == nil {
					return errNeedsPostgres
				}
				return db.MigrationStatus(c.Pool)
			})
		},
	}
}

func newInitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the baseline policy catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withContainer(cmd, func(c *app.Container) error {
				res, err := c.Lifecycle.InitializeBaseline(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newMigrateRolesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-roles",
		Short: "Convert legacy role memberships into policy assignments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withContainer(cmd, func(c *app.Container) error {
				res, err := c.Lifecycle.MigrateLegacyRoles(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newCleanupCmd(opts *options) *cobra.Command {
	var enqueue bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired assignments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if enqueue {
				if opts.config.RedisAddr == "" {
					return errors.New("--enqueue requires REDIS_ADDR")
				}
				client := jobs.NewClient(asynq.RedisClientOpt{Addr: opts.config.RedisAddr})
				defer client.Close()
				info, err := client.EnqueueCleanup(cmd.Context(), "cli")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s (%s)\n", info.ID, info.Type)
				return err
			}
			return opts.withContainer(cmd, func(c *app.Container) error {
				removed, err := c.Lifecycle.CleanupExpired(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int{"cleaned_count": removed})
			})
		},
	}
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "hand the cleanup to the worker queue instead of running it inline")
	return cmd
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report policy and assignment counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withContainer(cmd, func(c *app.Container) error {
				health, err := c.Lifecycle.SystemHealth(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), health)
			})
		},
	}
}

func newEvaluateCmd(opts *options) *cobra.Command {
	var req evaluator.Request
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a single access request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withContainer(cmd, func(c *app.Container) error {
				decision, err := c.Evaluator.Evaluate(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), decision)
			})
		},
	}
	cmd.Flags().StringVar(&req.UserID, "user", "", "caller user id")
	cmd.Flags().StringVar(&req.Action, "action", "", "action, e.g. delivery_challan:read")
	cmd.Flags().StringVar(&req.Resource, "resource", "", "resource, e.g. delivery_challan:42")
	return cmd
}
