package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ahrav/vidflow/internal/domain/processing"
)

func TestSweepForcesStaleProcessingToFailed(t *testing.T) {
	ctx := context.Background()
	store, log, tracer := newTestDeps(t)
	notifier := newFakeNotifier()

	task := processing.NewFileTask("clip.mp4", "client-1")
	require.NoError(t, store.CreateTask(ctx, task))

	applied, err := store.Upsert(ctx, task.ID, processing.ProcessTypeEnhancement, processing.StatusProcessing, 40, "")
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = store.Upsert(ctx, task.ID, processing.ProcessTypeExtraction, processing.StatusCompleted, 100, "")
	require.NoError(t, err)
	require.True(t, applied)

	timeout := time.Minute
	w := NewWatchdog(store, notifier, time.Second, timeout, log, tracer)
	w.now = func() time.Time { return time.Now().Add(2 * timeout) }
	w.sweep(ctx)

	rec, err := store.Get(ctx, task.ID, processing.ProcessTypeEnhancement)
	require.NoError(t, err)
	require.Equal(t, processing.StatusFailed, rec.Status)
	require.Contains(t, rec.Error, "timed out")

	// The completed pipeline is terminal and must be left alone.
	rec, err = store.Get(ctx, task.ID, processing.ProcessTypeExtraction)
	require.NoError(t, err)
	require.Equal(t, processing.StatusCompleted, rec.Status)

	events := notifier.events("client-1")
	require.Len(t, events, 1)
	event, ok := events[0].(processing.StatusEvent)
	require.True(t, ok)
	require.Equal(t, processing.StatusFailed, event.Status)
	require.Equal(t, processing.ProcessTypeEnhancement, event.ProcessType)
}

func TestSweepLeavesFreshProcessingAlone(t *testing.T) {
	ctx := context.Background()
	store, log, tracer := newTestDeps(t)

	task := processing.NewFileTask("clip.mp4", "client-1")
	require.NoError(t, store.CreateTask(ctx, task))

	applied, err := store.Upsert(ctx, task.ID, processing.ProcessTypeEnhancement, processing.StatusProcessing, 10, "")
	require.NoError(t, err)
	require.True(t, applied)

	w := NewWatchdog(store, nil, time.Second, time.Minute, log, tracer)
	w.sweep(ctx)

	rec, err := store.Get(ctx, task.ID, processing.ProcessTypeEnhancement)
	require.NoError(t, err)
	require.Equal(t, processing.StatusProcessing, rec.Status)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	store, log, tracer := newTestDeps(t)

	w := NewWatchdog(store, nil, 5*time.Millisecond, time.Minute, log, tracer)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop after cancel")
	}
}
