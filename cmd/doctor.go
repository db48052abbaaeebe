package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/oap-labs/oapd/internal/config"
	"github.com/oap-labs/oapd/internal/langgraph"
	"github.com/oap-labs/oapd/internal/vector"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and dependency health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("oapd doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults + env)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fmt.Println()
	fmt.Println("  Database:")
	checkDatabase(ctx, cfg)

	fmt.Println()
	fmt.Println("  Qdrant:")
	checkQdrant(ctx, cfg)

	fmt.Println()
	fmt.Println("  Engine:")
	checkEngine(ctx, cfg)

	fmt.Println()
	fmt.Println("  Providers:")
	checkProvider("LLM", cfg.Providers.APIKey)
	fmt.Printf("    %-12s %s (%d dims)\n", "Embeddings:", cfg.Providers.EmbeddingModel, cfg.Providers.EmbeddingDim)

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkDatabase(ctx context.Context, cfg *config.Config) {
	if cfg.Database.PostgresDSN == "" {
		fmt.Printf("    %-12s OAPD_POSTGRES_DSN not set\n", "Status:")
		return
	}
	db, err := sql.Open("pgx", cfg.Database.PostgresDSN)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}

	var version int64
	var dirty bool
	err = db.QueryRowContext(ctx,
		"SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	switch {
	case err != nil:
		fmt.Printf("    %-12s connected (schema not migrated — run: oapd migrate up)\n", "Status:")
	case dirty:
		fmt.Printf("    %-12s connected, schema v%d DIRTY (run: oapd migrate force %d)\n", "Status:", version, version-1)
	default:
		fmt.Printf("    %-12s connected, schema v%d\n", "Status:", version)
	}
}

func checkQdrant(ctx context.Context, cfg *config.Config) {
	fmt.Printf("    %-12s %s:%d\n", "Address:", cfg.Vector.Host, cfg.Vector.Port)
	index, err := vector.NewQdrantIndex(cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.APIKey, cfg.Vector.UseTLS)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	// A probe on a known name exercises the connection end to end.
	if err := index.EnsureCollection(ctx, "oapd_doctor_probe", cfg.Providers.EmbeddingDim); err != nil {
		fmt.Printf("    %-12s UNREACHABLE (%s)\n", "Status:", err)
		return
	}
	index.DropCollection(ctx, "oapd_doctor_probe")
	fmt.Printf("    %-12s OK\n", "Status:")
}

func checkEngine(ctx context.Context, cfg *config.Config) {
	fmt.Printf("    %-12s %s\n", "URL:", cfg.Engine.BaseURL)
	client := langgraph.NewClient(cfg.Engine.BaseURL, cfg.Engine.APIKey,
		cfg.Engine.RateLimitRPS, time.Duration(cfg.Engine.TimeoutSecs)*time.Second)
	if _, err := client.SearchAssistants(ctx, langgraph.SearchRequest{Limit: 1}); err != nil {
		fmt.Printf("    %-12s UNREACHABLE (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s OK\n", "Status:")
}

func checkProvider(name, apiKey string) {
	if apiKey == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	masked := apiKey
	if len(masked) > 8 {
		masked = masked[:4] + strings.Repeat("*", len(masked)-8) + masked[len(masked)-4:]
	}
	fmt.Printf("    %-12s %s\n", name+":", masked)
}
