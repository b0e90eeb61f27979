package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/vidflow/internal/domain/processing"
	"github.com/ahrav/vidflow/pkg/common/logger"
)

type capturePublisher struct {
	mu     sync.Mutex
	work   []processing.WorkMessage
	status []processing.StatusMessage
	dead   []processing.WorkMessage

	workErr error
}

func (p *capturePublisher) PublishWork(_ context.Context, msg processing.WorkMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.workErr != nil {
		return p.workErr
	}
	p.work = append(p.work, msg)
	return nil
}

func (p *capturePublisher) PublishStatus(_ context.Context, msg processing.StatusMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = append(p.status, msg)
	return nil
}

func (p *capturePublisher) PublishDeadLetter(_ context.Context, msg processing.WorkMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dead = append(p.dead, msg)
	return nil
}

type fakeWorkerMetrics struct {
	mu           sync.Mutex
	dequeued     int
	retried      int
	deadLettered int
}

func (m *fakeWorkerMetrics) IncTasksDequeued(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dequeued++
}

func (m *fakeWorkerMetrics) IncTasksRetried(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retried++
}

func (m *fakeWorkerMetrics) IncTasksDeadLettered(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLettered++
}

func (m *fakeWorkerMetrics) TrackTask(_ string, f func() error) error { return f() }

type fakeProcessor struct {
	err   error
	block bool
}

func (p *fakeProcessor) Process(ctx context.Context, path string) (string, error) {
	if p.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if p.err != nil {
		return "", p.err
	}
	return path + ".out", nil
}

type progressProcessor struct{ steps []int }

func (p *progressProcessor) Process(ctx context.Context, path string) (string, error) {
	return path + ".out", nil
}

func (p *progressProcessor) ProcessWithProgress(_ context.Context, path string, report func(int)) (string, error) {
	for _, step := range p.steps {
		report(step)
	}
	return path + ".out", nil
}

func newTestWorker(t *testing.T, cfg Config, proc processing.Processor) (*Worker, *capturePublisher, *fakeWorkerMetrics) {
	t.Helper()

	log := logger.NewWithHandler(slog.NewJSONHandler(io.Discard, nil))
	tracer := noop.NewTracerProvider().Tracer("test")

	pub := &capturePublisher{}
	metrics := &fakeWorkerMetrics{}
	return New(cfg, proc, pub, pub, pub, metrics, log, tracer), pub, metrics
}

func newWorkMessage(attempt int) processing.WorkMessage {
	task := processing.NewFileTask("clip.mp4", "client-1")
	msg := processing.NewWorkMessage(task, "/uploads/clip.mp4", processing.ProcessTypeEnhancement)
	msg.Attempt = attempt
	return msg
}

func TestHandleSuccessPublishesProcessingThenCompleted(t *testing.T) {
	cfg := Config{ProcessType: processing.ProcessTypeEnhancement}
	w, pub, metrics := newTestWorker(t, cfg, &fakeProcessor{})

	require.NoError(t, w.Handle(context.Background(), newWorkMessage(0)))

	require.Len(t, pub.status, 2)
	require.Equal(t, processing.StatusProcessing, pub.status[0].Status)
	require.Zero(t, pub.status[0].Progress)
	require.Equal(t, processing.StatusCompleted, pub.status[1].Status)
	require.Equal(t, 100, pub.status[1].Progress)
	require.Equal(t, "client-1", pub.status[1].ClientID)

	require.Empty(t, pub.work)
	require.Empty(t, pub.dead)
	require.Equal(t, 1, metrics.dequeued)
}

func TestHandleFailureBelowCapRepublishesNextAttempt(t *testing.T) {
	cfg := Config{ProcessType: processing.ProcessTypeEnhancement, MaxAttempts: 3}
	w, pub, metrics := newTestWorker(t, cfg, &fakeProcessor{err: errors.New("codec error")})

	require.NoError(t, w.Handle(context.Background(), newWorkMessage(0)))

	require.Len(t, pub.work, 1)
	require.Equal(t, 1, pub.work[0].Attempt)
	require.Equal(t, 1, metrics.retried)
	require.Empty(t, pub.dead)

	// Only the initial processing update; a retryable failure must not emit
	// a terminal status that would block the retry's own updates.
	require.Len(t, pub.status, 1)
	require.Equal(t, processing.StatusProcessing, pub.status[0].Status)
}

func TestHandleFailureAtCapDeadLettersAndFails(t *testing.T) {
	cfg := Config{ProcessType: processing.ProcessTypeEnhancement, MaxAttempts: 3}
	w, pub, metrics := newTestWorker(t, cfg, &fakeProcessor{err: errors.New("codec error")})

	require.NoError(t, w.Handle(context.Background(), newWorkMessage(2)))

	require.Empty(t, pub.work)
	require.Len(t, pub.dead, 1)
	require.Equal(t, 2, pub.dead[0].Attempt)
	require.Equal(t, 1, metrics.deadLettered)

	require.Len(t, pub.status, 2)
	final := pub.status[1]
	require.Equal(t, processing.StatusFailed, final.Status)
	require.Contains(t, final.Error, "max attempts exceeded")
	require.Contains(t, final.Error, "codec error")
}

func TestHandleTimeoutYieldsTimeoutFailure(t *testing.T) {
	cfg := Config{
		ProcessType:    processing.ProcessTypeEnhancement,
		MaxAttempts:    1,
		ProcessTimeout: 20 * time.Millisecond,
	}
	w, pub, _ := newTestWorker(t, cfg, &fakeProcessor{block: true})

	require.NoError(t, w.Handle(context.Background(), newWorkMessage(0)))

	require.Len(t, pub.status, 2)
	final := pub.status[1]
	require.Equal(t, processing.StatusFailed, final.Status)
	require.Contains(t, final.Error, "timeout")
	require.Len(t, pub.dead, 1)
}

func TestHandleRepublishFailureIsSurfaced(t *testing.T) {
	cfg := Config{ProcessType: processing.ProcessTypeEnhancement, MaxAttempts: 3}
	w, pub, _ := newTestWorker(t, cfg, &fakeProcessor{err: errors.New("codec error")})
	pub.workErr = errors.New("broker gone")

	require.Error(t, w.Handle(context.Background(), newWorkMessage(0)))
	require.Empty(t, pub.dead)
}

func TestHandleReportsIntermediateProgress(t *testing.T) {
	cfg := Config{ProcessType: processing.ProcessTypeExtraction}
	proc := &progressProcessor{steps: []int{25, 75}}
	w, pub, _ := newTestWorker(t, cfg, proc)

	msg := newWorkMessage(0)
	msg.ProcessType = processing.ProcessTypeExtraction
	require.NoError(t, w.Handle(context.Background(), msg))

	require.Len(t, pub.status, 4)
	require.Equal(t, 25, pub.status[1].Progress)
	require.Equal(t, 75, pub.status[2].Progress)
	require.Equal(t, processing.StatusCompleted, pub.status[3].Status)
}
