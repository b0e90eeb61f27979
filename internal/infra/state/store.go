// Package state provides the durable, concurrency-safe store of processing
// records. State lives in memory and is mirrored to a single flat JSON file
// rewritten atomically on every change, so a restart reconstructs the full
// table.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vidflow/internal/domain/processing"
	"github.com/ahrav/vidflow/pkg/common/logger"
)

// fileState is the persisted shape for one uploaded file: the task metadata
// plus one record per process type.
type fileState struct {
	ClientID  string                                                      `json:"client_id,omitempty"`
	Filename  string                                                      `json:"filename"`
	CreatedAt time.Time                                                   `json:"created_at"`
	Processes map[processing.ProcessType]processing.ProcessingRecord `json:"processes"`
}

var _ processing.StateStore = (*FileStore)(nil)

// FileStore implements processing.StateStore backed by a flat JSON file.
// A single store-wide mutex serializes read-modify-write cycles; the durable
// file is rewritten via write-to-temp-then-rename so a crash mid-write never
// leaves a partially written snapshot.
type FileStore struct {
	mu     sync.RWMutex
	path   string
	states map[uuid.UUID]*fileState

	log    *logger.Logger
	tracer trace.Tracer
}

// NewFileStore creates a FileStore persisting to path and loads any existing
// snapshot. A malformed or truncated snapshot yields an empty table and a
// logged warning rather than an error.
func NewFileStore(ctx context.Context, path string, log *logger.Logger, tracer trace.Tracer) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	s := &FileStore{
		path:   path,
		states: make(map[uuid.UUID]*fileState),
		log:    log,
		tracer: tracer,
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	if err := json.Unmarshal(data, &s.states); err != nil {
		log.Warn(ctx, "state file malformed, starting with empty table", "path", path, "error", err)
		s.states = make(map[uuid.UUID]*fileState)
	}

	return s, nil
}

// CreateTask persists a new file task along with one pending record per
// process type.
func (s *FileStore) CreateTask(ctx context.Context, task processing.FileTask) error {
	ctx, span := s.tracer.Start(ctx, "state.create_task",
		trace.WithAttributes(attribute.String("file_id", task.ID.String())))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	fs := &fileState{
		ClientID:  task.ClientID,
		Filename:  task.Filename,
		CreatedAt: task.CreatedAt,
		Processes: make(map[processing.ProcessType]processing.ProcessingRecord, 2),
	}
	for _, pt := range processing.ProcessTypes() {
		fs.Processes[pt] = processing.NewPendingRecord(now)
	}
	s.states[task.ID] = fs

	if err := s.persistLocked(); err != nil {
		return fmt.Errorf("persisting new task %s: %w", task.ID, err)
	}
	return nil
}

// GetTask returns the file task for an identifier.
func (s *FileStore) GetTask(ctx context.Context, fileID uuid.UUID) (processing.FileTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fs, ok := s.states[fileID]
	if !ok {
		return processing.FileTask{}, processing.ErrNoTask
	}
	return processing.FileTask{
		ID:        fileID,
		Filename:  fs.Filename,
		ClientID:  fs.ClientID,
		CreatedAt: fs.CreatedAt,
	}, nil
}

// Upsert submits a proposed transition for a key. The transition rules are
// applied under the store lock and the snapshot is persisted before the lock
// is released. A persistence failure is reported but the in-memory update is
// kept; a later upsert for the same key retries persistence.
func (s *FileStore) Upsert(
	ctx context.Context,
	fileID uuid.UUID,
	processType processing.ProcessType,
	status processing.Status,
	progress int,
	errMsg string,
) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "state.upsert", trace.WithAttributes(
		attribute.String("file_id", fileID.String()),
		attribute.String("process_type", processType.String()),
		attribute.String("status", status.String()),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	fs, ok := s.states[fileID]
	if !ok {
		// A status message can arrive for a file the store has never seen,
		// e.g. after the durable file was reset underneath a live broker.
		s.log.Warn(ctx, "upsert for unknown file, creating entry", "file_id", fileID)
		fs = &fileState{
			CreatedAt: time.Now().UTC(),
			Processes: make(map[processing.ProcessType]processing.ProcessingRecord, 2),
		}
		for _, pt := range processing.ProcessTypes() {
			fs.Processes[pt] = processing.NewPendingRecord(fs.CreatedAt)
		}
		s.states[fileID] = fs
	}

	rec, ok := fs.Processes[processType]
	if !ok {
		rec = processing.NewPendingRecord(time.Now().UTC())
	}

	applied := rec.ApplyUpdate(status, progress, errMsg, time.Now().UTC())
	if !applied {
		span.AddEvent("update_rejected")
		return false, nil
	}
	fs.Processes[processType] = rec

	if err := s.persistLocked(); err != nil {
		return true, fmt.Errorf("persisting upsert for %s/%s: %w", fileID, processType, err)
	}
	return true, nil
}

// Get returns the current record for a key.
func (s *FileStore) Get(ctx context.Context, fileID uuid.UUID, processType processing.ProcessType) (processing.ProcessingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fs, ok := s.states[fileID]
	if !ok {
		return processing.ProcessingRecord{}, processing.ErrNoRecord
	}
	rec, ok := fs.Processes[processType]
	if !ok {
		return processing.ProcessingRecord{}, processing.ErrNoRecord
	}
	return rec, nil
}

// StaleProcessing returns the keys of records stuck in the processing state
// whose last update is older than the cutoff.
func (s *FileStore) StaleProcessing(ctx context.Context, cutoff time.Time) ([]processing.RecordKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []processing.RecordKey
	for fileID, fs := range s.states {
		for pt, rec := range fs.Processes {
			if rec.Status == processing.StatusProcessing && rec.LastUpdated.Before(cutoff) {
				keys = append(keys, processing.RecordKey{FileID: fileID, ProcessType: pt})
			}
		}
	}
	return keys, nil
}

// ForceFail applies the watchdog override for a stuck record.
func (s *FileStore) ForceFail(ctx context.Context, fileID uuid.UUID, processType processing.ProcessType, errMsg string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "state.force_fail", trace.WithAttributes(
		attribute.String("file_id", fileID.String()),
		attribute.String("process_type", processType.String()),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	fs, ok := s.states[fileID]
	if !ok {
		return false, processing.ErrNoRecord
	}
	rec, ok := fs.Processes[processType]
	if !ok {
		return false, processing.ErrNoRecord
	}

	if !rec.ForceFail(errMsg, time.Now().UTC()) {
		return false, nil
	}
	fs.Processes[processType] = rec

	if err := s.persistLocked(); err != nil {
		return true, fmt.Errorf("persisting force-fail for %s/%s: %w", fileID, processType, err)
	}
	return true, nil
}

// persistLocked rewrites the durable file atomically. Callers must hold the
// write lock.
func (s *FileStore) persistLocked() error {
	data, err := json.Marshal(s.states)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
