package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RubachokBoss/qcm-grader/internal/models"
	"github.com/RubachokBoss/qcm-grader/internal/service"
	"github.com/RubachokBoss/qcm-grader/internal/service/pipeline"
	"github.com/RubachokBoss/qcm-grader/internal/worker/queue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	mu     sync.Mutex
	report *models.RunReport
	err    error
	events []models.CorrectionRequestedEvent
}

func (p *fakeProcessor) ProcessRequested(_ context.Context, event models.CorrectionRequestedEvent) (*models.RunReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.report, p.err
}

type fakeConsumer struct {
	msgs chan queue.RabbitMQMessage
}

func (c *fakeConsumer) Consume(context.Context) (<-chan queue.RabbitMQMessage, error) {
	return c.msgs, nil
}
func (c *fakeConsumer) GetQueueLength() (int, error) { return len(c.msgs), nil }
func (c *fakeConsumer) Close() error                 { return nil }

type delivery struct {
	acked    atomic.Int32
	nacked   atomic.Int32
	requeued atomic.Bool
}

func (d *delivery) message(t *testing.T, body interface{}) queue.RabbitMQMessage {
	t.Helper()
	raw, ok := body.([]byte)
	if !ok {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	return queue.RabbitMQMessage{
		Body:      raw,
		Timestamp: time.Now(),
		Ack: func(bool) error {
			d.acked.Add(1)
			return nil
		},
		Nack: func(_ bool, requeue bool) error {
			d.nacked.Add(1)
			d.requeued.Store(requeue)
			return nil
		},
	}
}

func newTestWorker(p RunProcessor) *correctionWorker {
	logger := zerolog.Nop()
	return &correctionWorker{
		workerPool:    NewWorkerPool(1, logger),
		queueConsumer: &fakeConsumer{msgs: make(chan queue.RabbitMQMessage, 1)},
		processor:     p,
		logger:        logger,
		startTime:     time.Now(),
	}
}

var requested = models.CorrectionRequestedEvent{RunID: "run-1", ProjectID: "exam-1", Policy: "standard"}

func TestHandle_AcksCompletedRun(t *testing.T) {
	p := &fakeProcessor{report: &models.RunReport{RunID: "run-1", State: models.StateDone}}
	w := newTestWorker(p)
	d := &delivery{}

	w.handle(context.Background(), d.message(t, requested))

	assert.EqualValues(t, 1, d.acked.Load())
	assert.EqualValues(t, 0, d.nacked.Load())
	require.Len(t, p.events, 1)
	assert.Equal(t, "exam-1", p.events[0].ProjectID)
	assert.Equal(t, 1, w.GetStats().TotalProcessed)
}

func TestHandle_MalformedMessagesAreAcked(t *testing.T) {
	p := &fakeProcessor{}
	w := newTestWorker(p)

	bad := &delivery{}
	w.handle(context.Background(), bad.message(t, []byte("{not json")))
	assert.EqualValues(t, 1, bad.acked.Load())

	empty := &delivery{}
	w.handle(context.Background(), empty.message(t, models.CorrectionRequestedEvent{RunID: "run-2"}))
	assert.EqualValues(t, 1, empty.acked.Load())

	assert.Empty(t, p.events)
	assert.Equal(t, 2, w.GetStats().FailedRuns)
}

func TestHandle_BusyProjectIsRequeued(t *testing.T) {
	w := newTestWorker(&fakeProcessor{err: pipeline.ErrRunInProgress})
	d := &delivery{}

	w.handle(context.Background(), d.message(t, requested))

	assert.EqualValues(t, 0, d.acked.Load())
	assert.EqualValues(t, 1, d.nacked.Load())
	assert.True(t, d.requeued.Load())
	assert.Equal(t, 1, w.GetStats().Requeued)
}

func TestHandle_RecordedFailureIsAcked(t *testing.T) {
	stageErr := &models.StageError{Stage: models.StageAnalysis, Kind: models.KindExternalToolFailure, Err: errors.New("exit 2")}
	w := newTestWorker(&fakeProcessor{
		report: &models.RunReport{RunID: "run-1", State: models.StateFailed},
		err:    stageErr,
	})
	d := &delivery{}

	w.handle(context.Background(), d.message(t, requested))

	assert.EqualValues(t, 1, d.acked.Load())
	assert.EqualValues(t, 0, d.nacked.Load())
}

func TestHandle_ShutdownRequeues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := newTestWorker(&fakeProcessor{
		report: &models.RunReport{RunID: "run-1", State: models.StateFailed},
		err:    context.Canceled,
	})
	d := &delivery{}

	w.handle(ctx, d.message(t, requested))

	assert.EqualValues(t, 1, d.nacked.Load())
	assert.True(t, d.requeued.Load())
}

func TestClassify(t *testing.T) {
	report := &models.RunReport{RunID: "run-1"}
	tests := []struct {
		name      string
		report    *models.RunReport
		err       error
		permanent bool
	}{
		{"in progress", nil, pipeline.ErrRunInProgress, false},
		{"recorded failure", report, errors.New("boom"), true},
		{"unknown project", nil, service.ErrProjectNotFound, true},
		{"invalid project", nil, service.ErrInvalidProjectID, true},
		{"input error", nil, &models.StageError{Kind: models.KindInputMissing, Err: models.ErrInvalidRoster}, true},
		{"transient", nil, errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.report, tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.permanent, isPermanentError(err))
		})
	}
	assert.NoError(t, classify(report, nil))
}

func TestCorrectionWorker_ConsumesQueue(t *testing.T) {
	p := &fakeProcessor{report: &models.RunReport{RunID: "run-1", State: models.StateDone}}
	consumer := &fakeConsumer{msgs: make(chan queue.RabbitMQMessage, 1)}
	w := NewCorrectionWorker(NewWorkerPool(2, zerolog.Nop()), consumer, p, WorkerConfig{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	d := &delivery{}
	consumer.msgs <- d.message(t, requested)

	require.Eventually(t, func() bool { return d.acked.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, w.Stop())
	assert.Equal(t, 1, w.GetStats().TotalProcessed)
}

func TestWorkerPool(t *testing.T) {
	pool := NewWorkerPool(2, zerolog.Nop())
	require.NoError(t, pool.Start(context.Background()))

	var (
		wg  sync.WaitGroup
		ran atomic.Int32
	)
	wg.Add(3)
	require.NoError(t, pool.Submit(func() { defer wg.Done(); panic("boom") }))
	require.NoError(t, pool.Submit(func() { defer wg.Done(); ran.Add(1) }))
	require.NoError(t, pool.Submit(func() { defer wg.Done(); ran.Add(1) }))
	wg.Wait()

	assert.EqualValues(t, 2, ran.Load())
	require.NoError(t, pool.Stop())
	assert.Equal(t, 0, pool.GetActiveWorkers())
	assert.ErrorIs(t, pool.Submit(func() {}), ErrPoolStopped)
	require.NoError(t, pool.Stop())
}
