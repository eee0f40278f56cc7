// Package gateway assembles the whole service: the proxy surface, the MCP
// tool server, the records API, and the long-running workers (background
// executor, synonym refresh, archive sync, cron jobs).
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dreamhive/memgate/internal/archive"
	"github.com/dreamhive/memgate/internal/background"
	"github.com/dreamhive/memgate/internal/config"
	"github.com/dreamhive/memgate/internal/cron"
	"github.com/dreamhive/memgate/internal/diary"
	"github.com/dreamhive/memgate/internal/inject"
	"github.com/dreamhive/memgate/internal/llm"
	"github.com/dreamhive/memgate/internal/maps"
	"github.com/dreamhive/memgate/internal/mcpserver"
	"github.com/dreamhive/memgate/internal/notes"
	"github.com/dreamhive/memgate/internal/observability"
	"github.com/dreamhive/memgate/internal/proxy"
	"github.com/dreamhive/memgate/internal/records"
	"github.com/dreamhive/memgate/internal/rerank"
	"github.com/dreamhive/memgate/internal/retrieval"
	"github.com/dreamhive/memgate/internal/scene"
	"github.com/dreamhive/memgate/internal/sticker"
	"github.com/dreamhive/memgate/internal/store"
	"github.com/dreamhive/memgate/internal/summary"
	"github.com/dreamhive/memgate/internal/synonym"
	"github.com/dreamhive/memgate/internal/tools"
)

// beijing is the wall clock the diary and janitor schedules run on.
var beijing = time.FixedZone("Asia/Shanghai", 8*3600)

// embeddingRetention is how long turn embeddings are kept before the
// janitor clears them. The text rows stay; only the vectors go.
const embeddingRetention = 7 * 24 * time.Hour

// App owns every component and their shutdown order.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	version string

	store     *store.Store
	records   *records.Store
	executor  *background.Executor
	expander  *synonym.Expander
	stickers  *sticker.Catalog
	scheduler *cron.Scheduler
	syncer    *archive.Syncer
	writer    *diary.Writer
	server    *http.Server
}

// Options wires an App. Metrics is optional so tests can build an App
// without touching the global Prometheus registry.
type Options struct {
	Config  *config.Config
	Version string
	Logger  *slog.Logger
	Metrics *observability.Metrics
	// Tracer is optional; without it request paths run untraced.
	Tracer *observability.Tracer
}

// New builds the full component graph. It connects to both databases and
// runs migrations; a failure here is fatal and the process should exit.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := opts.Metrics

	st, err := store.New(store.Config{
		DSN:             cfg.Database.URL,
		MaxConns:        cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		PoolWorkers:     cfg.Database.PoolWorkers,
		RunMigrations:   true,
		Observe:         storeObserver(m),
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	recDSN := cfg.Records.DSN
	if cfg.Records.Driver == "postgres" && recDSN == "" {
		recDSN = cfg.Database.URL
	}
	rec, err := records.Open(records.Config{
		Driver: cfg.Records.Driver,
		DSN:    recDSN,
		Logger: logger,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open records store: %w", err)
	}

	executor := background.New(background.Config{
		Logger:     logger,
		Observe:    taskObserver(m),
		QueueDepth: queueDepthObserver(m),
	})

	embedder := llm.NewEmbedder(llm.EmbedderConfig{
		BaseURL: cfg.Embedding.BaseURL,
		APIKey:  cfg.Embedding.APIKey,
		Model:   cfg.Embedding.Model,
		Timeout: cfg.Embedding.Timeout,
		Logger:  logger,
	})
	reranker := rerank.New(rerank.Config{
		BaseURL: cfg.Rerank.BaseURL,
		APIKey:  cfg.Rerank.APIKey,
		Model:   cfg.Rerank.Model,
		Timeout: cfg.Rerank.Timeout,
	})
	expander := synonym.New(st.LoadSynonymMap, logger)

	engine := retrieval.New(retrieval.Config{
		Searcher:       st,
		Embedder:       embedder,
		Reranker:       reranker,
		Expander:       expander,
		Logger:         logger,
		Observe:        retrievalObserver(m),
		RerankFallback: rerankFallbackObserver(m),
	})

	summaryChat := llm.NewChat(llm.ChatConfig{
		BaseURL: cfg.Summary.BaseURL,
		APIKey:  cfg.Summary.APIKey,
		Model:   cfg.Summary.Model,
		Timeout: cfg.Summary.Timeout,
	})
	pipeline := summary.New(summary.Config{
		Storage:  st,
		Complete: summaryChat,
		Embedder: embedder,
		Window:   cfg.Summary.Window,
		Logger:   logger,
		Submit:   executor.Submit,
	})

	scenes := scene.NewDetector()
	injector := inject.New(inject.Config{
		Retriever: engine,
		Storage:   st,
		MaxChars:  cfg.Memory.InjectMaxChars,
		Logger:    logger,
		Observe:   injectionObserver(m),
	})

	proxyCfg := proxy.Config{
		Proxy:         cfg.Proxy,
		OutboundProxy: cfg.Server.OutboundProxy,
		Version:       opts.Version,
		DefaultUser:   cfg.Memory.DefaultUser,
		Scenes:        scenes,
		Injector:      injector,
		Store:         st,
		Summaries:     pipeline,
		Embedder:      embedder,
		Background:    executor,
		Logger:        logger,
		Metrics:       m,
	}
	if opts.Tracer != nil {
		proxyCfg.Tracer = opts.Tracer
	}
	proxyHandler := proxy.New(proxyCfg)

	stickers, err := sticker.New(sticker.Config{
		Path:   cfg.Tools.StickerCatalog,
		Logger: logger,
	})
	if err != nil {
		st.Close()
		rec.Close()
		return nil, fmt.Errorf("load sticker catalog: %w", err)
	}

	notesClient := notes.New(notes.Config{
		BaseURL: cfg.Tools.Notes.BaseURL,
		Token:   cfg.Tools.Notes.Token,
		Repo:    cfg.Tools.Notes.Repo,
	})

	toolsCfg := tools.Config{
		Retriever: engine,
		Memory:    st,
		Diary:     rec,
		Ops:       records.NewOps(rec, time.Now),
		Mirror:    notesClient,
		Stickers:  stickers,
		UserID:    cfg.Memory.DefaultUser,
		Logger:    logger,
	}
	if cfg.Tools.Maps.APIKey != "" {
		toolsCfg.Maps = maps.New(maps.Config{
			BaseURL: cfg.Tools.Maps.BaseURL,
			APIKey:  cfg.Tools.Maps.APIKey,
			Logger:  logger,
		})
	}
	registry := tools.New(toolsCfg)

	mcpCfg := mcpserver.Config{
		Version:           opts.Version,
		HeartbeatInterval: cfg.MCP.HeartbeatInterval,
		Logger:            logger,
		Observe:           toolObserver(m),
	}
	if opts.Tracer != nil {
		mcpCfg.Tracer = opts.Tracer
	}
	mcpSrv := mcpserver.New(mcpCfg)
	if err := registry.Register(mcpSrv); err != nil {
		st.Close()
		rec.Close()
		return nil, fmt.Errorf("register tools: %w", err)
	}

	diaryChat := llm.NewChat(llm.ChatConfig{
		BaseURL: cfg.Summary.BaseURL,
		APIKey:  cfg.Summary.APIKey,
		Model:   cfg.Jobs.DiaryModel,
		Timeout: 2 * time.Minute,
	})
	writer := diary.New(diary.Config{
		Chat:    diaryChat,
		RunTool: registry.Run,
		Storage: rec,
		Mirror:  notesClient,
		Logger:  logger,
	})

	scheduler := cron.New(cron.WithLogger(logger), cron.WithLocation(beijing))
	if err := scheduler.AddJob("daily_diary", cfg.Jobs.DiarySchedule, func(ctx context.Context) error {
		_, err := writer.Write(ctx)
		return err
	}); err != nil {
		st.Close()
		rec.Close()
		return nil, fmt.Errorf("schedule diary job: %w", err)
	}
	if err := scheduler.AddJob("embedding_janitor", cfg.Jobs.JanitorSchedule, func(ctx context.Context) error {
		n, err := st.CleanupOldEmbeddings(ctx, embeddingRetention)
		if err == nil && n > 0 {
			logger.Info("cleared old embeddings", "rows", n)
		}
		return err
	}); err != nil {
		st.Close()
		rec.Close()
		return nil, fmt.Errorf("schedule janitor job: %w", err)
	}

	var syncer *archive.Syncer
	if cfg.Archive.Enabled {
		syncer = archive.New(archive.Config{
			Store:    st,
			BaseURL:  cfg.Archive.BaseURL,
			Interval: cfg.Archive.Interval,
			Logger:   logger,
		})
	}

	router := newRouter(routerDeps{
		proxy:   proxyHandler,
		mcp:     mcpSrv,
		records: records.NewAPI(rec).Routes(),
		metrics: promhttp.Handler(),
	})

	return &App{
		cfg:     cfg,
		logger:  logger,
		version: opts.Version,
		store:   st,
		records: rec,
		executor:  executor,
		expander:  expander,
		stickers:  stickers,
		scheduler: scheduler,
		syncer:    syncer,
		writer:    writer,
		server: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// routerDeps are the HTTP surfaces the router mounts. records and metrics
// may be nil.
type routerDeps struct {
	proxy   *proxy.Handler
	mcp     *mcpserver.Server
	records http.Handler
	metrics http.Handler
}

// newRouter mounts all surfaces on one chi router. The proxy owns the root
// so its /v1 and /health paths stay where OpenAI clients expect them.
func newRouter(d routerDeps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/mcp", d.mcp.HandlePost)
	r.Get("/mcp", d.mcp.HandleSSE)
	r.Delete("/mcp", d.mcp.HandleDelete)
	if d.records != nil {
		r.Mount("/api", d.records)
	}
	if d.metrics != nil {
		r.Handle("/metrics", d.metrics)
	}
	r.Mount("/", d.proxy.Routes())
	return r
}

// WriteDiary runs the diary job once, outside its schedule. Used by the
// `memgate diary write` command.
func (a *App) WriteDiary(ctx context.Context) (string, error) {
	return a.writer.Write(ctx)
}

// Close releases the databases and workers without serving. Run performs
// its own shutdown; Close is for one-shot commands.
func (a *App) Close() error {
	a.executor.Close()
	recErr := a.records.Close()
	if err := a.store.Close(); err != nil {
		return err
	}
	return recErr
}

// Run serves until ctx is cancelled, then shuts everything down in reverse
// dependency order.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.expander.Load(ctx); err != nil {
		a.logger.Warn("initial synonym load failed", "error", err)
	}
	go a.expander.Start(ctx, a.cfg.Memory.SynonymRefresh)

	stopWatch := make(chan struct{})
	if err := a.stickers.Watch(stopWatch); err != nil {
		a.logger.Warn("sticker catalog watch unavailable", "error", err)
	}
	defer close(stopWatch)

	a.scheduler.Start(ctx)

	if a.syncer != nil {
		go a.syncer.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.ListenAndServe()
	}()
	a.logger.Info("gateway listening",
		"addr", a.cfg.Server.Addr(), "version", a.version)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown incomplete", "error", err)
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stop incomplete", "error", err)
	}
	a.executor.Close()
	if err := a.records.Close(); err != nil {
		a.logger.Warn("records close failed", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close failed", "error", err)
	}
	a.logger.Info("gateway stopped")
	return nil
}
