package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ahrav/vidflow/internal/domain/processing"
)

func TestPublishWorkRoutesByProcessType(t *testing.T) {
	broker := NewBroker()
	ctx := context.Background()

	var enhancement, extraction []processing.WorkMessage
	require.NoError(t, broker.SubscribeWork(ctx, processing.ProcessTypeEnhancement,
		func(_ context.Context, msg processing.WorkMessage) error {
			enhancement = append(enhancement, msg)
			return nil
		}))
	require.NoError(t, broker.SubscribeWork(ctx, processing.ProcessTypeExtraction,
		func(_ context.Context, msg processing.WorkMessage) error {
			extraction = append(extraction, msg)
			return nil
		}))

	task := processing.NewFileTask("clip.mp4", "client-1")
	require.NoError(t, broker.PublishWork(ctx, processing.NewWorkMessage(task, "/uploads/clip.mp4", processing.ProcessTypeEnhancement)))
	require.NoError(t, broker.PublishWork(ctx, processing.NewWorkMessage(task, "/uploads/clip.mp4", processing.ProcessTypeExtraction)))

	require.Len(t, enhancement, 1)
	require.Len(t, extraction, 1)
	require.Equal(t, processing.ProcessTypeEnhancement, enhancement[0].ProcessType)
	require.Equal(t, processing.ProcessTypeExtraction, extraction[0].ProcessType)
}

func TestPublishStatusFansIn(t *testing.T) {
	broker := NewBroker()
	ctx := context.Background()

	var got []processing.StatusMessage
	require.NoError(t, broker.SubscribeStatus(ctx, func(_ context.Context, msg processing.StatusMessage) error {
		got = append(got, msg)
		return nil
	}))

	task := processing.NewFileTask("clip.mp4", "client-1")
	work := processing.NewWorkMessage(task, "/uploads/clip.mp4", processing.ProcessTypeEnhancement)

	require.NoError(t, broker.PublishStatus(ctx, processing.NewStatusMessage(work, processing.StatusProcessing, 0, "")))
	require.NoError(t, broker.PublishStatus(ctx, processing.NewStatusMessage(work, processing.StatusCompleted, 100, "")))

	require.Len(t, got, 2)
	require.Equal(t, processing.StatusProcessing, got[0].Status)
	require.Equal(t, processing.StatusCompleted, got[1].Status)
}

func TestPublishStopsAtFirstHandlerError(t *testing.T) {
	broker := NewBroker()
	ctx := context.Background()

	wantErr := errors.New("handler failed")
	require.NoError(t, broker.SubscribeStatus(ctx, func(context.Context, processing.StatusMessage) error {
		return wantErr
	}))

	var reached bool
	require.NoError(t, broker.SubscribeStatus(ctx, func(context.Context, processing.StatusMessage) error {
		reached = true
		return nil
	}))

	task := processing.NewFileTask("clip.mp4", "")
	work := processing.NewWorkMessage(task, "/uploads/clip.mp4", processing.ProcessTypeEnhancement)

	err := broker.PublishStatus(ctx, processing.NewStatusMessage(work, processing.StatusProcessing, 0, ""))
	require.ErrorIs(t, err, wantErr)
	require.False(t, reached)
}

func TestSubscribeNilHandler(t *testing.T) {
	broker := NewBroker()
	ctx := context.Background()

	require.Error(t, broker.SubscribeWork(ctx, processing.ProcessTypeEnhancement, nil))
	require.Error(t, broker.SubscribeStatus(ctx, nil))
}
