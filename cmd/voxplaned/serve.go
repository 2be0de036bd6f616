package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nodalflow/voxplane/internal/agentcore"
	"github.com/nodalflow/voxplane/internal/agentcore/llm"
	"github.com/nodalflow/voxplane/internal/agentcore/parse"
	"github.com/nodalflow/voxplane/internal/agentcore/sandbox"
	"github.com/nodalflow/voxplane/internal/config"
	"github.com/nodalflow/voxplane/internal/cronjobs"
	"github.com/nodalflow/voxplane/internal/database"
	"github.com/nodalflow/voxplane/internal/embedding"
	"github.com/nodalflow/voxplane/internal/embedding/iolog"
	"github.com/nodalflow/voxplane/internal/notify"
	"github.com/nodalflow/voxplane/internal/observability"
	"github.com/nodalflow/voxplane/internal/pipeline"
	"github.com/nodalflow/voxplane/internal/queue"
	"github.com/nodalflow/voxplane/internal/snapshot"
	"github.com/nodalflow/voxplane/internal/snapshot/vectorindex"
	"github.com/nodalflow/voxplane/internal/textnorm"
	"github.com/nodalflow/voxplane/internal/transport"
	"github.com/nodalflow/voxplane/pkg/voxmodels"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

// lateJobs breaks the hub↔scheduler construction cycle: the hub needs a
// job lookup before the scheduler (which needs the hub) exists.
type lateJobs struct {
	scheduler *queue.Scheduler
}

func (l *lateJobs) JobByID(id string) (*voxmodels.Job, voxmodels.QueueName, bool) {
	if l.scheduler == nil {
		return nil, "", false
	}
	return l.scheduler.JobByID(id)
}

func serve(cfg *config.Config) error {
	logger := cfg.Logging.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, shutdownTracer, err := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	// Durable stores are optional: without a DSN everything runs
	// in-process, which is the single-node dev shape.
	var db *sql.DB
	if cfg.Database.DSN != "" {
		db, err = database.Open(ctx, database.DefaultConfig(cfg.Database.DSN))
		if err != nil {
			return err
		}
		defer db.Close()
		logger.Info("durable stores enabled")
	}

	embedder, err := buildEmbedder(cfg, logger)
	if err != nil {
		return err
	}

	var ioStore iolog.Store = iolog.NewMemStore()
	if db != nil {
		ioStore = iolog.NewSQLStore(db, logger)
	}
	var iologOpts []iolog.Option
	if cfg.Embeddings.AsyncIOLog {
		iologOpts = append(iologOpts, iolog.WithAsync(func(err error) {
			logger.Warn("async io-log append failed", "error", err)
		}))
	}
	ioLogger := iolog.New(ioStore, embedder, iologOpts...)
	go ioLogger.Run(ctx)

	snapshots, err := buildSnapshots(cfg, embedder, logger)
	if err != nil {
		return err
	}

	router, err := buildAgents(cfg, tracer, logger)
	if err != nil {
		return err
	}

	auth := newStaticAuth(cfg.Auth)
	registry := notify.NewRegistry()
	var notifStore notify.NotificationStore = notify.NewMemNotificationStore()
	if db != nil {
		notifStore = notify.NewSQLNotificationStore(db, logger)
	}
	jobs := &lateJobs{}
	hub := notify.New(registry, notifStore, jobs)

	cacheable := make(map[string]struct{}, len(cfg.Queue.CacheableRoutingCommands))
	for _, c := range cfg.Queue.CacheableRoutingCommands {
		cacheable[c] = struct{}{}
	}
	defaultCommand := cfg.Agents.DefaultRoutingCommand
	if defaultCommand == "" && len(cfg.Agents.Commands) > 0 {
		defaultCommand = cfg.Agents.Commands[0].RoutingCommand
	}

	var schedOpts []queue.Option
	if db != nil {
		schedOpts = append(schedOpts, queue.WithArchive(queue.NewSQLArchive(db, logger)))
	}
	scheduler := queue.New(queue.SchedulerConfig{
		SimilarityThreshold: cfg.Queue.SimilarityThreshold,
		WorkerPollInterval:  cfg.Queue.WorkerPollInterval,
		CacheableRoutingCommand: func(routingCommand string) bool {
			_, ok := cacheable[routingCommand]
			return ok
		},
		ResolveRoutingCommand: func(ctx context.Context, question string) (string, error) {
			return defaultCommand, nil
		},
	}, embedder, snapshots, router, hub, ioLogger, nil, schedOpts...)
	jobs.scheduler = scheduler

	wirePipeline(cfg, router, hub, tracer)

	go scheduler.Run(ctx)

	cron := cronjobs.New(logger)
	err = cron.Add(cronjobs.Job{
		Name:     "prune-terminal-queues",
		Schedule: cfg.Queue.PruneSchedule,
		Run: func(context.Context) error {
			done, dead := scheduler.PruneTerminal(cfg.Queue.TerminalRetention)
			if done+dead > 0 {
				logger.Info("pruned terminal jobs", "done", done, "dead", dead)
			}
			return nil
		},
	})
	if err != nil {
		return err
	}
	cron.Start()
	defer cron.Stop()

	server := transport.NewServer(scheduler, hub, hub, auth, auth, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildEmbedder(cfg *config.Config, logger *slog.Logger) (*embedding.Manager, error) {
	apiKey := cfg.Embeddings.OpenAIAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	provider, err := embedding.NewOpenAIProvider(apiKey, cfg.Embeddings.OllamaBaseURL, cfg.Embeddings.Model)
	if err != nil {
		return nil, err
	}

	cache := embedding.NewMemCache()
	if cfg.Embeddings.RedisAddr != "" {
		cache, err = embedding.NewRedisCache(cfg.Embeddings.RedisAddr, "", 0, 0)
		if err != nil {
			return nil, err
		}
	}

	return embedding.New(provider, cache, textnorm.ExpansionMaps{}, cfg.Embeddings.NormalizeForCache, logger), nil
}

func buildSnapshots(cfg *config.Config, embedder *embedding.Manager, logger *slog.Logger) (*snapshot.Manager, error) {
	var opts []snapshot.Option
	if cfg.Snapshots.VectorIndexEnabled {
		idx, err := vectorindex.New(cfg.Snapshots.VectorIndexAddr, "solutions", cfg.Embeddings.Dimension)
		if err != nil {
			// The index is an accelerator; a missing qdrant must not keep
			// the plane from starting.
			logger.Warn("vector index unavailable, falling back to scan", "error", err)
		} else {
			opts = append(opts, snapshot.WithVectorIndex(idx))
		}
	}
	return snapshot.New(snapshot.Config{
		RootDir:       cfg.Snapshots.RootDir,
		WorldWritable: cfg.Snapshots.WorldWritable,
	}, embedder, nil, opts...)
}

func buildAgents(cfg *config.Config, tracer *observability.Tracer, logger *slog.Logger) (*agentcore.Router, error) {
	anthropicKey := cfg.Agents.AnthropicAPIKey
	if anthropicKey == "" {
		anthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	openaiKey := cfg.Agents.OpenAIAPIKey
	if openaiKey == "" {
		openaiKey = os.Getenv("OPENAI_API_KEY")
	}

	var anthropicProvider *llm.AnthropicProvider
	if anthropicKey != "" {
		var err error
		anthropicProvider, err = llm.NewAnthropicProvider(llm.AnthropicConfig{APIKey: anthropicKey})
		if err != nil {
			return nil, err
		}
	}
	var openaiProvider *llm.OpenAIProvider
	if openaiKey != "" {
		var err error
		openaiProvider, err = llm.NewOpenAIProvider(openaiKey, "")
		if err != nil {
			return nil, err
		}
	}
	provider := llm.NewMultiProvider(anthropicProvider, openaiProvider)

	runner := sandbox.NewRunner(cfg.Agents.PythonInterpreter, cfg.Agents.WorkspaceRoot)
	templates := &agentcore.FileTemplates{Root: cfg.Agents.TemplateRoot}

	agents := make([]*agentcore.Agent, 0, len(cfg.Agents.Commands))
	for _, cmd := range cfg.Agents.Commands {
		agents = append(agents, &agentcore.Agent{
			Capability: agentcore.CapabilityRecord{
				RoutingCommand: cmd.RoutingCommand,
				LLMSpecID:      cmd.LLMSpecKey,
				TemplatePath:   cmd.PromptTemplate,
				Topic:          cmd.SerializationTopic,
				ExpectedFields: cmd.ExpectedFields,
				FormatterMode:  cmd.FormatterMode,
				Cacheable:      cmd.Cacheable,
				ProducesCode:   cmd.ProducesCode,
				ParseStrategy:  cmd.ParseStrategy,
			},
			LLM:                   provider,
			Runner:                runner,
			Parser:                parse.New(cmd.ParseStrategy, logger),
			Templates:             templates,
			DebugMinimalistModels: cfg.Agents.DebugMinimalistModels,
			DebugFullModels:       cfg.Agents.DebugFullModels,
			MaxAttemptsPerModel:   cfg.Agents.DebugMaxAttemptsPerModel,
			SandboxTimeout:        cfg.Agents.SandboxTimeout,
			Tracer:                tracer,
		})
	}
	return agentcore.NewRouter(agents...), nil
}

// wirePipeline registers the configured chained pipeline (e.g. research →
// podcast) as its own job family.
func wirePipeline(cfg *config.Config, router *agentcore.Router, hub *notify.Hub, tracer *observability.Tracer) {
	if cfg.Pipeline.RoutingCommand == "" {
		return
	}
	stageA := &pipeline.AgentStage{
		StageName:      cfg.Pipeline.StageA.Name,
		RoutingCommand: cfg.Pipeline.StageA.RoutingCommand,
		ArtifactKey:    cfg.Pipeline.StageA.ArtifactKey,
		Runner:         router,
	}
	stageB := &pipeline.AgentStage{
		StageName:      cfg.Pipeline.StageB.Name,
		RoutingCommand: cfg.Pipeline.StageB.RoutingCommand,
		ArtifactKey:    cfg.Pipeline.StageB.ArtifactKey,
		Runner:         router,
	}
	p := pipeline.New(stageA, stageB, hub)
	p.Tracer = tracer
	router.RegisterRunner(cfg.Pipeline.RoutingCommand, &pipeline.JobRunner{Pipeline: p})
}
