package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/oap-labs/oapd/internal/config"
	"github.com/oap-labs/oapd/internal/langgraph"
	"github.com/oap-labs/oapd/internal/mirror"
	"github.com/oap-labs/oapd/internal/store/pg"
)

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run mirror sync against the upstream engine",
	}
	cmd.AddCommand(syncIncrementalCmd())
	cmd.AddCommand(syncFullCmd())
	cmd.AddCommand(syncGraphCmd())
	cmd.AddCommand(syncAssistantCmd())
	cmd.AddCommand(syncCleanupCmd())
	return cmd
}

// withSyncer loads config, connects, and hands a ready syncer to fn.
func withSyncer(fn func(ctx context.Context, cfg *config.Config, s *mirror.Syncer) error) error {
	log := newLogger()
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Database.PostgresDSN == "" {
		return fmt.Errorf("OAPD_POSTGRES_DSN environment variable is not set")
	}
	stores, db, err := pg.NewPGStores(cfg.Database.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	engine := langgraph.NewClient(cfg.Engine.BaseURL, cfg.Engine.APIKey,
		cfg.Engine.RateLimitRPS, time.Duration(cfg.Engine.TimeoutSecs)*time.Second)
	syncer := mirror.NewSyncer(stores.Mirror, stores.Cache, engine, cfg.Mirror.PageLimit, log)
	return fn(context.Background(), cfg, syncer)
}

func printResult(res *mirror.Result) {
	fmt.Printf("new: %d, updated: %d, unchanged: %d, schema updates: %d\n",
		res.New, res.Updated, res.Unchanged, res.SchemaUpdates)
	for _, e := range res.Errors {
		fmt.Printf("error: %s\n", e)
	}
}

func syncIncrementalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "incremental",
		Short: "Sweep upstream assistants, upserting changed rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSyncer(func(ctx context.Context, cfg *config.Config, s *mirror.Syncer) error {
				res, err := s.SyncIncremental(ctx)
				if err != nil {
					return err
				}
				printResult(res)
				return nil
			})
		},
	}
}

func syncFullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "full",
		Short: "Sweep upstream and deactivate graphs no longer present",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSyncer(func(ctx context.Context, cfg *config.Config, s *mirror.Syncer) error {
				res, err := s.SyncFull(ctx)
				if err != nil {
					return err
				}
				printResult(res)
				return nil
			})
		},
	}
}

func syncGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph <graph-id>",
		Short: "Sync assistants of one graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSyncer(func(ctx context.Context, cfg *config.Config, s *mirror.Syncer) error {
				res, err := s.SyncGraph(ctx, args[0])
				if err != nil {
					return err
				}
				printResult(res)
				return nil
			})
		},
	}
}

func syncAssistantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assistant <assistant-id>",
		Short: "Sync one assistant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid assistant id: %w", err)
			}
			return withSyncer(func(ctx context.Context, cfg *config.Config, s *mirror.Syncer) error {
				res, err := s.SyncAssistant(ctx, id)
				if err != nil {
					return err
				}
				printResult(res)
				return nil
			})
		},
	}
}

func syncCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete mirror rows stale past the grace period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSyncer(func(ctx context.Context, cfg *config.Config, s *mirror.Syncer) error {
				res, err := s.Cleanup(ctx, cfg.MirrorGrace())
				if err != nil {
					return err
				}
				fmt.Printf("assistants: %d, graphs: %d, schemas: %d\n",
					res.Assistants, res.Graphs, res.Schemas)
				return nil
			})
		},
	}
}
