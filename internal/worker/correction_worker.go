package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/RubachokBoss/qcm-grader/internal/models"
	"github.com/RubachokBoss/qcm-grader/internal/service"
	"github.com/RubachokBoss/qcm-grader/internal/service/pipeline"
	"github.com/RubachokBoss/qcm-grader/internal/worker/queue"
	"github.com/rs/zerolog"
)

// RunProcessor executes one queued correction request.
type RunProcessor interface {
	ProcessRequested(ctx context.Context, event models.CorrectionRequestedEvent) (*models.RunReport, error)
}

type CorrectionWorker interface {
	Start(ctx context.Context) error
	Stop() error
	GetStats() WorkerStats
}

type WorkerStats struct {
	ActiveWorkers  int `json:"active_workers"`
	ProcessedToday int `json:"processed_today"`
	TotalProcessed int `json:"total_processed"`
	FailedRuns     int `json:"failed_runs"`
	Requeued       int `json:"requeued"`
	QueueLength    int `json:"queue_length"`
}

type WorkerConfig struct {
	RequeueDelay time.Duration
	RunTimeout   time.Duration
}

type correctionWorker struct {
	workerPool    *WorkerPool
	queueConsumer queue.RabbitMQConsumer
	processor     RunProcessor
	config        WorkerConfig
	logger        zerolog.Logger
	stats         WorkerStats
	statsMutex    sync.RWMutex
	startTime     time.Time
}

func NewCorrectionWorker(
	workerPool *WorkerPool,
	queueConsumer queue.RabbitMQConsumer,
	processor RunProcessor,
	config WorkerConfig,
	logger zerolog.Logger,
) CorrectionWorker {
	return &correctionWorker{
		workerPool:    workerPool,
		queueConsumer: queueConsumer,
		processor:     processor,
		config:        config,
		logger:        logger,
		startTime:     time.Now(),
	}
}

func (w *correctionWorker) Start(ctx context.Context) error {
	w.logger.Info().Msg("Starting correction worker...")

	if err := w.workerPool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	msgs, err := w.queueConsumer.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	go w.processMessages(ctx, msgs)

	w.logger.Info().Msg("Correction worker started successfully")
	return nil
}

func (w *correctionWorker) Stop() error {
	w.logger.Info().Msg("Stopping correction worker...")

	if err := w.queueConsumer.Close(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to close queue consumer")
	}

	if err := w.workerPool.Stop(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to stop worker pool")
	}

	stats := w.GetStats()
	w.logger.Info().
		Int("total_processed", stats.TotalProcessed).
		Int("failed_runs", stats.FailedRuns).
		Dur("uptime", time.Since(w.startTime)).
		Msg("Correction worker stopped")

	return nil
}

func (w *correctionWorker) processMessages(ctx context.Context, msgs <-chan queue.RabbitMQMessage) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Stopping message processing")
			return
		case msg, ok := <-msgs:
			if !ok {
				w.logger.Warn().Msg("Message channel closed")
				return
			}

			if err := w.workerPool.Submit(func() { w.handle(ctx, msg) }); err != nil {
				w.logger.Error().Err(err).Msg("Failed to submit correction run")
				if nackErr := msg.Nack(false, true); nackErr != nil {
					w.logger.Error().Err(nackErr).Msg("Failed to nack message")
				}
			}
		}
	}
}

// handle acks completed and permanently failed runs and requeues the rest.
func (w *correctionWorker) handle(ctx context.Context, msg queue.RabbitMQMessage) {
	err := w.processMessage(ctx, msg)

	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			w.logger.Error().Err(ackErr).Msg("Failed to ack message")
		}
		w.statsMutex.Lock()
		w.stats.TotalProcessed++
		if time.Since(msg.Timestamp).Hours() < 24 {
			w.stats.ProcessedToday++
		}
		w.statsMutex.Unlock()

	case isPermanentError(err) && ctx.Err() == nil:
		w.logger.Error().Err(err).Msg("Correction run failed")
		if ackErr := msg.Ack(false); ackErr != nil {
			w.logger.Error().Err(ackErr).Msg("Failed to ack message")
		}
		w.statsMutex.Lock()
		w.stats.FailedRuns++
		w.statsMutex.Unlock()

	default:
		w.logger.Warn().Err(err).Dur("delay", w.config.RequeueDelay).Msg("Requeueing correction request")
		if ctx.Err() == nil && w.config.RequeueDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(w.config.RequeueDelay):
			}
		}
		if nackErr := msg.Nack(false, true); nackErr != nil {
			w.logger.Error().Err(nackErr).Msg("Failed to nack message")
		}
		w.statsMutex.Lock()
		w.stats.Requeued++
		w.statsMutex.Unlock()
	}
}

func (w *correctionWorker) processMessage(ctx context.Context, msg queue.RabbitMQMessage) error {
	var event models.CorrectionRequestedEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return permanent(fmt.Errorf("failed to unmarshal event: %w", err))
	}

	if strings.TrimSpace(event.RunID) == "" {
		return permanent(errors.New("empty run_id"))
	}
	if strings.TrimSpace(event.ProjectID) == "" {
		return permanent(errors.New("empty project_id"))
	}

	w.logger.Info().
		Str("run_id", event.RunID).
		Str("project", event.ProjectID).
		Str("policy", event.Policy).
		Bool("redelivered", msg.Redelivered).
		Msg("Processing correction request")

	runCtx := ctx
	if w.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.config.RunTimeout)
		defer cancel()
	}

	report, err := w.processor.ProcessRequested(runCtx, event)
	return classify(report, err)
}

// classify decides whether a failed request may succeed when delivered again.
func classify(report *models.RunReport, err error) error {
	var stageErr *models.StageError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pipeline.ErrRunInProgress):
		return err
	case report != nil,
		errors.As(err, &stageErr),
		errors.Is(err, service.ErrProjectNotFound),
		errors.Is(err, service.ErrInvalidProjectID):
		return permanent(err)
	default:
		return err
	}
}

func (w *correctionWorker) GetStats() WorkerStats {
	w.statsMutex.Lock()
	defer w.statsMutex.Unlock()

	queueLength, err := w.queueConsumer.GetQueueLength()
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to get queue length")
	} else {
		w.stats.QueueLength = queueLength
	}

	w.stats.ActiveWorkers = w.workerPool.GetActiveWorkers()

	return w.stats
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return permanentError{err: err}
}

func isPermanentError(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
