package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/RubachokBoss/qcm-grader/internal/config"
	"github.com/RubachokBoss/qcm-grader/internal/delivery/httpd"
	"github.com/RubachokBoss/qcm-grader/internal/repository"
	"github.com/RubachokBoss/qcm-grader/internal/service"
	"github.com/RubachokBoss/qcm-grader/internal/service/analysis"
	"github.com/RubachokBoss/qcm-grader/internal/service/export"
	"github.com/RubachokBoss/qcm-grader/internal/service/grading"
	"github.com/RubachokBoss/qcm-grader/internal/service/integration"
	"github.com/RubachokBoss/qcm-grader/internal/service/layout"
	"github.com/RubachokBoss/qcm-grader/internal/service/normalizer"
	"github.com/RubachokBoss/qcm-grader/internal/service/pipeline"
	"github.com/RubachokBoss/qcm-grader/internal/service/quality"
	"github.com/RubachokBoss/qcm-grader/internal/worker"
	"github.com/RubachokBoss/qcm-grader/internal/worker/queue"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

type App struct {
	server           *http.Server
	logger           zerolog.Logger
	config           *config.Config
	db               *sql.DB
	correctionWorker worker.CorrectionWorker
	rabbitMQRepo     repository.RabbitMQRepository
	publisher        queue.RabbitMQPublisher
	cancelWorker     context.CancelFunc
}

func New(cfg *config.Config, log zerolog.Logger, db *sql.DB) (*App, error) {
	var archiver export.Archiver
	if cfg.Storage.Enabled {
		archive, err := NewArchive(cfg.Storage, log)
		if err != nil {
			return nil, err
		}
		archiver = archive
	}

	orchestrator := BuildOrchestrator(cfg, log, archiver)
	projects := service.NewProjectStore(cfg.Projects.Root)
	runRepo := repository.NewRunRepository(db, log)

	var (
		rabbitMQRepo repository.RabbitMQRepository
		publisher    queue.RabbitMQPublisher
		consumer     queue.RabbitMQConsumer
	)
	if cfg.RabbitMQ.Enabled {
		var err error
		rabbitMQRepo, err = repository.NewRabbitMQRepository(cfg.RabbitMQ.URL, log)
		if err != nil {
			return nil, err
		}

		if err := rabbitMQRepo.SetupQueue(
			cfg.RabbitMQ.Exchange,
			cfg.RabbitMQ.QueueName,
			cfg.RabbitMQ.RoutingKey,
		); err != nil {
			rabbitMQRepo.Close()
			return nil, err
		}

		publisher = queue.NewRabbitMQPublisher(rabbitMQRepo.Channel(), log)
		consumer = queue.NewRabbitMQConsumer(
			rabbitMQRepo.Channel(),
			cfg.RabbitMQ.QueueName,
			cfg.RabbitMQ.ConsumerTag,
			cfg.RabbitMQ.PrefetchCount,
			log,
		)
	} else {
		log.Warn().Msg("RabbitMQ disabled, asynchronous corrections are unavailable")
	}

	correctionService := service.NewCorrectionService(
		projects,
		orchestrator,
		runRepo,
		publisher,
		log,
		service.CorrectionConfig{
			Exchange:      cfg.RabbitMQ.Exchange,
			DefaultPolicy: cfg.Grading.DefaultPolicy,
		},
	)

	var (
		correctionWorker worker.CorrectionWorker
		stats            httpd.StatsProvider
	)
	if consumer != nil {
		workerPool := worker.NewWorkerPool(cfg.Worker.MaxWorkers, log)
		correctionWorker = worker.NewCorrectionWorker(
			workerPool,
			consumer,
			correctionService,
			worker.WorkerConfig{
				RequeueDelay: cfg.Worker.RequeueDelay,
				RunTimeout:   cfg.Worker.RunTimeout,
			},
			log,
		)
		stats = correctionWorker
	}

	handler := httpd.NewHandler(correctionService, stats, log)

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{
		server:           server,
		logger:           log,
		config:           cfg,
		db:               db,
		correctionWorker: correctionWorker,
		rabbitMQRepo:     rabbitMQRepo,
		publisher:        publisher,
	}, nil
}

// BuildOrchestrator wires the external tools and the pipeline stages. The
// archiver may be nil.
func BuildOrchestrator(cfg *config.Config, log zerolog.Logger, archiver export.Archiver) pipeline.Orchestrator {
	tools := integration.NewToolchain(integration.ToolchainOptions{
		Compiler:         toolOptions("compiler", cfg.Tools.Compiler),
		FallbackCompiler: toolOptions("fallback_compiler", cfg.Tools.FallbackCompiler),
		Extractor:        toolOptions("extractor", cfg.Tools.Extractor),
		Rasterizer:       toolOptions("rasterizer", cfg.Tools.Rasterizer),
		Recognizer:       toolOptions("recognizer", cfg.Tools.Recognizer),
		Annotator:        toolOptions("annotator", cfg.Tools.Annotator),
	}, log)

	preparer := layout.NewPreparer(
		tools.Compiler,
		tools.FallbackCompiler,
		tools.Extractor,
		layout.NewSQLiteStore(),
		layout.Config{MinDocumentBytes: cfg.Pipeline.MinDocumentBytes},
		log,
	)

	analyzer := analysis.NewAnalyzer(
		tools.Recognizer,
		analysis.NewSQLiteCaptureStore(cfg.Pipeline.DarknessThreshold),
		analysis.Config{
			MaxArgsBytes:     cfg.Pipeline.MaxArgsBytes,
			MaxPagesPerBatch: cfg.Pipeline.MaxPagesPerBatch,
		},
		log,
	)

	verifier := quality.NewVerifier(quality.Thresholds{
		HighMean:          cfg.Quality.HighMean,
		LowMean:           cfg.Quality.LowMean,
		LowDiscrimination: cfg.Quality.LowDiscrimination,
	}, log)

	exporter := export.NewExporter(tools.Annotator, archiver, export.Config{
		MinAnnotationBytes: cfg.Pipeline.MinAnnotationBytes,
		SkipAnnotation:     cfg.Pipeline.SkipAnnotation,
	}, log)

	return pipeline.NewOrchestrator(
		preparer,
		normalizer.NewNormalizer(tools.Rasterizer, log),
		analyzer,
		verifier,
		exporter,
		pipeline.NewProjectLocks(),
		pipeline.Config{
			DPI:                  cfg.Pipeline.DPI,
			PageBudget:           cfg.Pipeline.PageBudget,
			AcceptDegradedLayout: cfg.Pipeline.AcceptDegradedLayout,
			AdaptiveBands: grading.AdaptiveBands{
				Easy: cfg.Grading.AdaptiveEasy,
				Hard: cfg.Grading.AdaptiveHard,
			},
		},
		log,
	)
}

// NewArchive connects to the export bucket.
func NewArchive(cfg config.StorageConfig, log zerolog.Logger) (*repository.ArchiveRepository, error) {
	return repository.NewArchiveRepository(repository.ArchiveConfig{
		Endpoint:       cfg.Endpoint,
		AccessKey:      cfg.AccessKey,
		SecretKey:      cfg.SecretKey,
		Bucket:         cfg.Bucket,
		Region:         cfg.Region,
		UseSSL:         cfg.UseSSL,
		ConnectTimeout: cfg.ConnectTimeout,
	}, log)
}

func toolOptions(name string, tc config.ToolConfig) integration.ToolOptions {
	return integration.ToolOptions{
		Name:    name,
		Command: tc.Command,
		Args:    tc.Args,
		Env:     tc.Env,
		Timeout: tc.Timeout,
	}
}

func (a *App) Run() error {
	if a.correctionWorker != nil {
		ctx, cancel := context.WithCancel(context.Background())
		a.cancelWorker = cancel
		if err := a.correctionWorker.Start(ctx); err != nil {
			a.logger.Error().Err(err).Msg("Failed to start correction worker")
			return err
		}
	}

	a.logger.Info().Msgf("Starting correction service on %s", a.config.Server.Address)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("Shutting down correction service...")

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Failed to shutdown HTTP server")
		return err
	}

	// In-flight queued runs are cancelled and requeued by the worker.
	if a.cancelWorker != nil {
		a.cancelWorker()
	}
	if a.correctionWorker != nil {
		if err := a.correctionWorker.Stop(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to stop correction worker")
		}
	}

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close publisher")
		}
	}

	if a.rabbitMQRepo != nil {
		if err := a.rabbitMQRepo.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close RabbitMQ connection")
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close database connection")
		}
	}

	a.logger.Info().Msg("Correction service stopped")
	return nil
}
