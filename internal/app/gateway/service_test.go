package gateway

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/vidflow/internal/domain/processing"
	"github.com/ahrav/vidflow/internal/infra/state"
	"github.com/ahrav/vidflow/pkg/common/logger"
)

type captureWorkPublisher struct {
	mu   sync.Mutex
	work []processing.WorkMessage
}

func (p *captureWorkPublisher) PublishWork(_ context.Context, msg processing.WorkMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.work = append(p.work, msg)
	return nil
}

type captureNotifier struct {
	mu   sync.Mutex
	sent map[string][]any
}

func (n *captureNotifier) Send(_ context.Context, clientID string, event any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sent == nil {
		n.sent = make(map[string][]any)
	}
	n.sent[clientID] = append(n.sent[clientID], event)
	return true
}

type fakeUploadMetrics struct {
	accepted  int
	published int
}

func (m *fakeUploadMetrics) IncUploadsAccepted()     { m.accepted++ }
func (m *fakeUploadMetrics) IncWorkPublished(string) { m.published++ }

func newTestService(t *testing.T) (*Service, *state.FileStore, *captureWorkPublisher, *captureNotifier, string) {
	t.Helper()

	log := logger.NewWithHandler(slog.NewJSONHandler(io.Discard, nil))
	tracer := noop.NewTracerProvider().Tracer("test")

	dir := t.TempDir()
	store, err := state.NewFileStore(context.Background(), filepath.Join(dir, "processing_states.json"), log, tracer)
	require.NoError(t, err)

	pub := &captureWorkPublisher{}
	notifier := &captureNotifier{}
	uploadDir := filepath.Join(dir, "uploads")

	svc, err := NewService(store, pub, notifier, &fakeUploadMetrics{}, uploadDir, log, tracer)
	require.NoError(t, err)
	return svc, store, pub, notifier, uploadDir
}

func TestAcceptDispatchesEveryPipeline(t *testing.T) {
	ctx := context.Background()
	svc, store, pub, notifier, uploadDir := newTestService(t)

	task, err := svc.Accept(ctx, "client-1", "clip.mp4", strings.NewReader("video-bytes"))
	require.NoError(t, err)

	// The file lands under the upload directory keyed by task ID.
	storagePath := filepath.Join(uploadDir, task.ID.String()+".mp4")
	data, err := os.ReadFile(storagePath)
	require.NoError(t, err)
	require.Equal(t, "video-bytes", string(data))

	// One pending record per process type.
	for _, pt := range processing.ProcessTypes() {
		rec, err := store.Get(ctx, task.ID, pt)
		require.NoError(t, err)
		require.Equal(t, processing.StatusPending, rec.Status)
	}

	// One work message per process type, all pointing at the stored file.
	require.Len(t, pub.work, 2)
	types := map[processing.ProcessType]bool{}
	for _, msg := range pub.work {
		require.Equal(t, task.ID, msg.FileID)
		require.Equal(t, storagePath, msg.StoragePath)
		require.Equal(t, "client-1", msg.ClientID)
		require.Zero(t, msg.Attempt)
		types[msg.ProcessType] = true
	}
	require.Len(t, types, 2)

	// The uploading client gets an acceptance event.
	events := notifier.sent["client-1"]
	require.Len(t, events, 1)
	upload, ok := events[0].(processing.UploadEvent)
	require.True(t, ok)
	require.Equal(t, task.ID, upload.FileID)
}

func TestAcceptWithoutClientSkipsNotification(t *testing.T) {
	ctx := context.Background()
	svc, _, pub, notifier, _ := newTestService(t)

	_, err := svc.Accept(ctx, "", "clip.mov", strings.NewReader("x"))
	require.NoError(t, err)

	require.Len(t, pub.work, 2)
	require.Empty(t, notifier.sent)
}

func TestStatusReturnsCurrentRecord(t *testing.T) {
	ctx := context.Background()
	svc, store, _, _, _ := newTestService(t)

	task, err := svc.Accept(ctx, "client-1", "clip.mp4", strings.NewReader("x"))
	require.NoError(t, err)

	applied, err := store.Upsert(ctx, task.ID, processing.ProcessTypeEnhancement, processing.StatusProcessing, 30, "")
	require.NoError(t, err)
	require.True(t, applied)

	rec, err := svc.Status(ctx, task.ID, processing.ProcessTypeEnhancement)
	require.NoError(t, err)
	require.Equal(t, processing.StatusProcessing, rec.Status)
	require.Equal(t, 30, rec.Progress)

	_, err = svc.Status(ctx, processing.NewFileTask("other.mp4", "").ID, processing.ProcessTypeEnhancement)
	require.ErrorIs(t, err, processing.ErrNoRecord)
}
