package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ahrav/vidflow/internal/domain/processing"
	"github.com/ahrav/vidflow/pkg/common/logger"
)

// VideoMetadata is the report produced by the metadata extraction pipeline.
type VideoMetadata struct {
	Filename   string  `json:"filename"`
	Format     string  `json:"format"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	FrameCount int     `json:"frame_count,omitempty"`
	Duration   float64 `json:"duration_seconds"`
	SizeBytes  int64   `json:"file_size_bytes"`
	BitRate    string  `json:"bit_rate,omitempty"`
	VideoCodec string  `json:"video_codec,omitempty"`
}

// MetadataExtractor runs the metadata extraction pipeline. With ffprobe on
// PATH it produces a full stream-level report; without it the report degrades
// to what the filesystem alone can tell.
type MetadataExtractor struct {
	outputDir string
	probeOK   bool
	logger    *logger.Logger
}

var _ processing.Processor = (*MetadataExtractor)(nil)

// NewMetadataExtractor creates an extractor writing reports into outputDir.
func NewMetadataExtractor(outputDir string, log *logger.Logger) (*MetadataExtractor, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating metadata directory: %w", err)
	}

	probeOK := FFProbeAvailable()
	if !probeOK {
		log.Warn(context.Background(), "ffprobe not available, metadata extraction will be limited")
	}
	return &MetadataExtractor{
		outputDir: outputDir,
		probeOK:   probeOK,
		logger:    log.With("component", "metadata_extractor"),
	}, nil
}

// Process extracts metadata without progress reporting.
func (m *MetadataExtractor) Process(ctx context.Context, path string) (string, error) {
	return m.ProcessWithProgress(ctx, path, nil)
}

// ProcessWithProgress extracts metadata from the video at path and writes the
// JSON report. The report callback may be nil.
func (m *MetadataExtractor) ProcessWithProgress(ctx context.Context, path string, report func(int)) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat input: %w", err)
	}

	meta := VideoMetadata{
		Filename:  filepath.Base(path),
		Format:    strings.TrimPrefix(filepath.Ext(path), "."),
		SizeBytes: info.Size(),
	}
	progress(report, 30)

	if m.probeOK {
		if err := m.enrich(ctx, path, &meta); err != nil {
			return "", err
		}
	}
	progress(report, 70)

	outputPath := filepath.Join(m.outputDir,
		strings.TrimSuffix(meta.Filename, filepath.Ext(meta.Filename))+"_metadata.json")
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}
	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return "", fmt.Errorf("writing metadata report: %w", err)
	}

	m.logger.Info(ctx, "metadata extracted",
		"input", path, "output", outputPath, "duration", meta.Duration)
	return outputPath, nil
}

// enrich fills stream-level fields from ffprobe.
func (m *MetadataExtractor) enrich(ctx context.Context, path string, meta *VideoMetadata) error {
	result, err := probe(ctx, path)
	if err != nil {
		return err
	}

	meta.Duration, _ = strconv.ParseFloat(result.Format.Duration, 64)
	meta.BitRate = result.Format.BitRate
	if result.Format.FormatName != "" {
		meta.Format = result.Format.FormatName
	}

	for _, stream := range result.Streams {
		if stream.CodecType != "video" {
			continue
		}
		meta.Width = stream.Width
		meta.Height = stream.Height
		meta.FPS = parseFrameRate(stream.RFrameRate)
		meta.VideoCodec = stream.CodecName
		if frames, err := strconv.Atoi(stream.NbFrames); err == nil {
			meta.FrameCount = frames
		} else if meta.FPS > 0 {
			meta.FrameCount = int(meta.Duration * meta.FPS)
		}
		break
	}
	return nil
}

func progress(report func(int), pct int) {
	if report != nil {
		report(pct)
	}
}
