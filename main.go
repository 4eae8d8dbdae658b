package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/RubachokBoss/qcm-grader/internal/app"
	"github.com/RubachokBoss/qcm-grader/internal/config"
	"github.com/RubachokBoss/qcm-grader/internal/database"
	"github.com/RubachokBoss/qcm-grader/internal/models"
	"github.com/RubachokBoss/qcm-grader/internal/service"
	"github.com/RubachokBoss/qcm-grader/internal/service/export"
	"github.com/RubachokBoss/qcm-grader/internal/service/pipeline"
	"github.com/RubachokBoss/qcm-grader/pkg/logger"
)

const usage = `usage:
  qcm-grader [serve]
  qcm-grader migrate [up|down|force <version>]
  qcm-grader run [-policy name] [-force-layout] [-skip-export] [-formats csv,xlsx] <project-dir>`

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
		case "migrate":
			runMigrations(os.Args[2:])
			return
		case "run":
			os.Exit(runOnce(os.Args[2:]))
		case "-h", "--help", "help":
			fmt.Println(usage)
			return
		default:
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithConfig(cfg.Logging.Level, cfg.Logging.Pretty, cfg.Logging.NoColor)

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}

	log.Info().Msg("Database connection established")

	application, err := app.New(cfg, log, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	go func() {
		if err := application.Run(); err != nil {
			log.Fatal().Err(err).Msg("Failed to run application")
		}
	}()

	log.Info().Msgf("QCM correction service started on %s", cfg.Server.Address)

	<-ctx.Done()
	log.Info().Msg("Shutting down QCM correction service...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown gracefully")
	}

	log.Info().Msg("QCM correction service stopped")
}

func runMigrations(args []string) {
	log := logger.New()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	direction := "up"
	if len(args) > 0 {
		direction = args[0]
	}

	migrator, err := database.NewMigrator(cfg.Database, cfg.Database.MigrationsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrator")
	}

	switch direction {
	case "up":
		if err := migrator.Up(); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		log.Info().Msg("Migrations applied successfully")
	case "down":
		if err := migrator.Down(); err != nil {
			log.Fatal().Err(err).Msg("Failed to rollback migrations")
		}
		log.Info().Msg("Migrations rolled back successfully")
	case "force":
		var version int
		if len(args) < 2 {
			log.Fatal().Msg("Missing migration version")
		}
		if _, err := fmt.Sscanf(args[1], "%d", &version); err != nil {
			log.Fatal().Err(err).Msg("Invalid migration version")
		}
		if err := migrator.Force(version); err != nil {
			log.Fatal().Err(err).Msg("Failed to force migration version")
		}
		log.Info().Int("version", version).Msg("Migration version forced")
	default:
		log.Fatal().Msg("Invalid migration direction. Use 'up', 'down' or 'force'")
	}
}

// runOnce corrects a single project directory without the database or the
// broker. The report goes to stdout, logs to stderr.
func runOnce(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	policy := fs.String("policy", "", "grading policy (default from config)")
	forceLayout := fs.Bool("force-layout", false, "rebuild the layout even when it is current")
	skipExport := fs.Bool("skip-export", false, "stop after quality verification")
	formats := fs.String("formats", "", "comma separated export formats (csv, xlsx)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}
	log := logger.NewWithOptions(logger.Options{
		Level:   cfg.Logging.Level,
		Pretty:  true,
		NoColor: cfg.Logging.NoColor,
		Output:  os.Stderr,
	})

	root, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		log.Error().Err(err).Msg("Invalid project directory")
		return 1
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		log.Error().Str("path", root).Msg("Project directory not found")
		return 1
	}
	project := models.NewProject(filepath.Base(root), root)

	roster, qs, err := service.LoadInputs(project)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load project inputs")
		return 1
	}

	var archiver export.Archiver
	if cfg.Storage.Enabled {
		archive, err := app.NewArchive(cfg.Storage, log)
		if err != nil {
			log.Error().Err(err).Msg("Failed to connect to archive storage")
			return 1
		}
		archiver = archive
	}

	if *policy == "" {
		*policy = cfg.Grading.DefaultPolicy
	}
	opts := pipeline.Options{
		ForceLayout: *forceLayout,
		SkipExport:  *skipExport,
	}
	if *formats != "" {
		opts.Formats = strings.Split(*formats, ",")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orchestrator := app.BuildOrchestrator(cfg, log, archiver)
	report, runErr := orchestrator.RunCorrection(ctx, project, roster, qs, *policy, opts)
	if report == nil {
		log.Error().Err(runErr).Msg("Correction did not start")
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Error().Err(err).Msg("Failed to write run report")
		return 1
	}

	if runErr != nil {
		var stageErr *models.StageError
		if errors.As(runErr, &stageErr) {
			log.Error().Str("stage", string(stageErr.Stage)).Str("kind", string(stageErr.Kind)).Err(runErr).Msg("Correction failed")
		} else {
			log.Error().Err(runErr).Msg("Correction failed")
		}
		return 1
	}
	return 0
}
