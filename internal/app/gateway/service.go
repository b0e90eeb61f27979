// Package gateway implements the upload-facing application service: accepting
// a video file, seeding its processing records, and dispatching work to every
// background pipeline.
package gateway

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vidflow/internal/domain/processing"
	"github.com/ahrav/vidflow/pkg/common/logger"
)

// UploadMetrics defines the metrics operations used by the upload service.
type UploadMetrics interface {
	IncUploadsAccepted()
	IncWorkPublished(processType string)
}

// Service accepts uploads and fans work out to the processing pipelines.
// Accepting a file is a three-step pipeline: persist the bytes, seed the
// pending records, publish one work message per process type. A failure after
// the file is written removes it again so the upload directory never collects
// orphans.
type Service struct {
	store     processing.StateStore
	publisher processing.WorkPublisher
	notifier  processing.ClientNotifier
	metrics   UploadMetrics

	uploadDir string

	logger *logger.Logger
	tracer trace.Tracer
}

// NewService creates the upload service and ensures the upload directory
// exists.
func NewService(
	store processing.StateStore,
	publisher processing.WorkPublisher,
	notifier processing.ClientNotifier,
	metrics UploadMetrics,
	uploadDir string,
	log *logger.Logger,
	tracer trace.Tracer,
) (*Service, error) {
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &Service{
		store:     store,
		publisher: publisher,
		notifier:  notifier,
		metrics:   metrics,
		uploadDir: uploadDir,
		logger:    log.With("component", "upload_service"),
		tracer:    tracer,
	}, nil
}

// Accept stores an uploaded file and dispatches it to every processing
// pipeline. The returned task carries the identifier clients use for status
// queries and push correlation.
func (s *Service) Accept(ctx context.Context, clientID, filename string, src io.Reader) (processing.FileTask, error) {
	ctx, span := s.tracer.Start(ctx, "gateway.Accept", trace.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("filename", filename),
	))
	defer span.End()

	task := processing.NewFileTask(filename, clientID)
	storagePath := filepath.Join(s.uploadDir, task.ID.String()+filepath.Ext(filename))

	if err := writeFile(storagePath, src); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "storing upload failed")
		return processing.FileTask{}, fmt.Errorf("storing upload: %w", err)
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		span.RecordError(err)
		_ = os.Remove(storagePath)
		return processing.FileTask{}, fmt.Errorf("creating task: %w", err)
	}

	for _, pt := range processing.ProcessTypes() {
		if err := s.publisher.PublishWork(ctx, processing.NewWorkMessage(task, storagePath, pt)); err != nil {
			span.RecordError(err)
			return processing.FileTask{}, fmt.Errorf("publishing %s work: %w", pt, err)
		}
		s.metrics.IncWorkPublished(pt.String())
	}

	s.metrics.IncUploadsAccepted()
	s.logger.Info(ctx, "upload accepted",
		"file_id", task.ID, "filename", filename, "client_id", clientID)

	if s.notifier != nil && clientID != "" {
		s.notifier.Send(ctx, clientID, processing.NewUploadEvent(task.ID))
	}

	span.AddEvent("upload_accepted")
	return task, nil
}

// Status returns the current record for one (file, process type) pair.
func (s *Service) Status(ctx context.Context, fileID uuid.UUID, processType processing.ProcessType) (processing.ProcessingRecord, error) {
	return s.store.Get(ctx, fileID, processType)
}

func writeFile(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(path)
		return err
	}
	return dst.Close()
}
