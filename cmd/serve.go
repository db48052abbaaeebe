package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/auth"
	"github.com/oap-labs/oapd/internal/bus"
	"github.com/oap-labs/oapd/internal/collections"
	"github.com/oap-labs/oapd/internal/config"
	"github.com/oap-labs/oapd/internal/gateway"
	httpapi "github.com/oap-labs/oapd/internal/http"
	"github.com/oap-labs/oapd/internal/ingest"
	"github.com/oap-labs/oapd/internal/jobs"
	"github.com/oap-labs/oapd/internal/langgraph"
	"github.com/oap-labs/oapd/internal/mirror"
	"github.com/oap-labs/oapd/internal/naming"
	"github.com/oap-labs/oapd/internal/notifications"
	"github.com/oap-labs/oapd/internal/permissions"
	"github.com/oap-labs/oapd/internal/providers"
	"github.com/oap-labs/oapd/internal/publicperm"
	"github.com/oap-labs/oapd/internal/store"
	"github.com/oap-labs/oapd/internal/store/pg"
	"github.com/oap-labs/oapd/internal/sweep"
	"github.com/oap-labs/oapd/internal/tracing"
	"github.com/oap-labs/oapd/internal/vector"
	"github.com/oap-labs/oapd/internal/versions"
	"github.com/oap-labs/oapd/pkg/protocol"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the oapd server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	log := newLogger()
	slog.SetDefault(log)

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if cfg.Database.PostgresDSN == "" {
		log.Error("OAPD_POSTGRES_DSN is not set")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Error("tracing init failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	stores, db, err := pg.NewPGStores(cfg.Database.PostgresDSN)
	if err != nil {
		log.Error("database connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	index, err := vector.NewQdrantIndex(cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.APIKey, cfg.Vector.UseTLS)
	if err != nil {
		log.Error("qdrant connect failed", "error", err)
		os.Exit(1)
	}

	provider := providers.NewOpenAIProvider("openai", cfg.Providers.APIKey, cfg.Providers.APIBase, cfg.Naming.Model).
		WithEmbeddings(cfg.Providers.EmbeddingModel, cfg.Providers.EmbeddingDim)
	engine := langgraph.NewClient(cfg.Engine.BaseURL, cfg.Engine.APIKey,
		cfg.Engine.RateLimitRPS, time.Duration(cfg.Engine.TimeoutSecs)*time.Second)

	permEngine := permissions.NewEngine(stores.Users, stores.Permissions, stores.Collections, log)
	collSvc := collections.NewService(stores.Collections, stores.Documents, stores.Chunks,
		stores.Permissions, index, provider, permEngine, log).
		WithEmbedWorkers(cfg.Ingestion.EmbedWorkers)
	publicSvc := publicperm.NewService(stores.Public, stores.Permissions, stores.Mirror, log)
	notifSvc := notifications.NewService(stores.Notifications, stores.Users, stores.Mirror,
		stores.Collections, permEngine, cfg.NotificationExpiry(), log)
	syncer := mirror.NewSyncer(stores.Mirror, stores.Cache, engine, cfg.Mirror.PageLimit, log)
	verSvc := versions.NewService(stores.Versions, engine,
		versions.SyncFunc(func(ctx context.Context, id uuid.UUID) error {
			_, err := syncer.SyncAssistant(ctx, id)
			return err
		}), log)

	conv := ingest.NewConverter(cfg.Ingestion.ConverterURL, cfg.ConversionTimeout())
	trans := ingest.NewTranscriptFetcher(cfg.Ingestion.TranscriptURL,
		cfg.Ingestion.TranscriptFallbackURL, cfg.ConversionTimeout())
	pipeline := ingest.NewPipeline(collSvc, stores.Documents, conv, trans, log)

	scheduler := jobs.NewScheduler(stores.Jobs, ingestJobHandler(pipeline), cfg.Jobs.MaxConcurrent, log)
	scheduler.Start(ctx)

	authmw := &httpapi.Auth{
		Token:     cfg.Server.Token,
		Users:     stores.Users,
		AutoGrant: publicSvc.GrantActiveToUser,
		Log:       log,
	}

	events := bus.New()
	server := gateway.NewServer(cfg, events, authmw, log)
	server.AddHandler(httpapi.NewUsersHandler(stores.Users, authmw, log))
	server.AddHandler(httpapi.NewPermissionsHandler(permEngine, authmw, log))
	server.AddHandler(httpapi.NewNotificationsHandler(notifSvc, authmw, log))
	server.AddHandler(httpapi.NewPublicPermissionsHandler(publicSvc, authmw, log))
	server.AddHandler(httpapi.NewCollectionsHandler(collSvc, authmw, log))
	server.AddHandler(httpapi.NewJobsHandler(scheduler, authmw, log))
	server.AddHandler(httpapi.NewAssistantsHandler(stores.Mirror, permEngine, verSvc, authmw, log))
	server.AddHandler(httpapi.NewThreadsHandler(stores.Threads, authmw, log))
	server.AddHandler(httpapi.NewAdminHandler(syncer, stores.Cache, authmw, log))

	if err := startSweeps(ctx, cfg, server, stores, syncer, notifSvc, engine, provider, log); err != nil {
		log.Error("sweep setup failed", "error", err)
		os.Exit(1)
	}

	err = server.Start(ctx)
	scheduler.Wait()
	if err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// ingestJobHandler adapts the pipeline to the scheduler's handler
// contract. The job row carries ownership; the payload carries the
// request with file bytes.
func ingestJobHandler(pipeline *ingest.Pipeline) jobs.Handler {
	return func(ctx context.Context, job *store.Job, payload interface{}, progress func(step string, percent int)) (json.RawMessage, int, int, error) {
		req, ok := payload.(ingest.Request)
		if !ok {
			return nil, 0, 0, apperr.New(apperr.Internal, "job %s has no ingest payload", job.ID)
		}
		actor := auth.Actor{Type: auth.ActorUser, UserID: job.UserID}
		result, err := pipeline.Run(ctx, actor, job.CollectionID, req, progress)
		if err != nil {
			return nil, 0, 0, err
		}
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("marshal result: %w", err)
		}
		return raw, result.DocumentsProcessed, result.ChunksCreated, nil
	}
}

// startSweeps registers the cron tasks: notification expiry, mirror
// sync, mirror cleanup, and thread naming.
func startSweeps(ctx context.Context, cfg *config.Config, server *gateway.Server,
	stores *store.Stores, syncer *mirror.Syncer, notifSvc *notifications.Service,
	engine *langgraph.Client, provider providers.Chatter, log *slog.Logger) error {

	runner := sweep.NewRunner(log)
	caster := newCacheBroadcaster(stores.Cache, server)

	if s := cfg.Notify.ExpireSchedule; s != "" {
		err := runner.Add("notifications.expire", s, func(ctx context.Context) error {
			_, err := notifSvc.ExpireDue(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}

	if s := cfg.Mirror.IncrementalSchedule; s != "" {
		err := runner.Add("mirror.incremental", s, func(ctx context.Context) error {
			_, err := syncer.SyncIncremental(ctx)
			caster.broadcastChanges(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}

	if s := cfg.Mirror.FullSchedule; s != "" {
		err := runner.Add("mirror.full", s, func(ctx context.Context) error {
			if _, err := syncer.SyncFull(ctx); err != nil {
				return err
			}
			caster.broadcastChanges(ctx)
			_, err := syncer.Cleanup(ctx, cfg.MirrorGrace())
			return err
		})
		if err != nil {
			return err
		}
	}

	if cfg.Naming.Enabled && cfg.Naming.Schedule != "" {
		sweeper := naming.NewSweeper(stores.Threads, engine, provider, naming.Options{
			Model:       cfg.Naming.Model,
			TokenBudget: cfg.Naming.TokenBudget,
			MinInterval: cfg.MinNamingInterval(),
			BatchLimit:  cfg.Naming.BatchLimit,
		}, log)
		err := runner.Add("threads.naming", cfg.Naming.Schedule, func(ctx context.Context) error {
			res, err := sweeper.Sweep(ctx)
			if err == nil && res.Named > 0 {
				caster.broadcastChanges(ctx)
			}
			return err
		})
		if err != nil {
			return err
		}
	}

	go runner.Start(ctx)
	return nil
}

// cacheBroadcaster pushes cache.invalidate events when the version
// counters move past what connected clients last saw.
type cacheBroadcaster struct {
	cache  store.CacheStateStore
	server *gateway.Server
	last   store.CacheState
}

func newCacheBroadcaster(cache store.CacheStateStore, server *gateway.Server) *cacheBroadcaster {
	return &cacheBroadcaster{cache: cache, server: server}
}

func (b *cacheBroadcaster) broadcastChanges(ctx context.Context) {
	state, err := b.cache.Get(ctx)
	if err != nil {
		return
	}
	if state.GraphsVersion > b.last.GraphsVersion {
		b.server.BroadcastCacheInvalidate(protocol.CacheKindGraphs, state.GraphsVersion)
	}
	if state.AssistantsVersion > b.last.AssistantsVersion {
		b.server.BroadcastCacheInvalidate(protocol.CacheKindAssistants, state.AssistantsVersion)
	}
	if state.SchemasVersion > b.last.SchemasVersion {
		b.server.BroadcastCacheInvalidate(protocol.CacheKindSchemas, state.SchemasVersion)
	}
	if state.ThreadsVersion > b.last.ThreadsVersion {
		b.server.BroadcastCacheInvalidate(protocol.CacheKindThreads, state.ThreadsVersion)
	}
	b.last = *state
}
