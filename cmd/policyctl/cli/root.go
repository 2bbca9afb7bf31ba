// Package cli implements policyctl, the operator command line for policyd.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/foursyz/policyd/internal/app"
)

// Builder wires the service container for a single command run.
type Builder func(ctx context.Context, cfg *app.Config) (*app.Container, error)

type options struct {
	build  Builder
	config *app.Config
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := NewRootCmd(nil)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// NewRootCmd assembles the command tree. A nil builder uses app.Build with the
// command's logger.
func NewRootCmd(build Builder) *cobra.Command {
	opts := &options{build: build}

	root := &cobra.Command{
		Use:           "policyctl",
		Short:         "Operate the policyd policy store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			opts.config = cfg
			if opts.build == nil {
				logger := app.NewLogger(cfg)
				opts.build = func(ctx context.Context, cfg *app.Config) (*app.Container, error) {
					return app.Build(ctx, cfg, logger)
				}
			}
			return nil
		},
	}

	root.AddCommand(
		newMigrateCmd(opts),
		newStatusCmd(opts),
		newInitCmd(opts),
		newMigrateRolesCmd(opts),
		newCleanupCmd(opts),
		newHealthCmd(opts),
		newEvaluateCmd(opts),
	)
	return root
}

// withContainer builds the container, runs fn and releases the connections.
func (o *options) withContainer(cmd *cobra.Command, fn func(*app.Container) error) error {
	if o.build == nil || o.config == nil {
		return errors.New("policyctl: not initialised")
	}
	c, err := o.build(cmd.Context(), o.config)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
