package processor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ahrav/vidflow/internal/domain/processing"
	"github.com/ahrav/vidflow/pkg/common/logger"
)

// Enhancer runs the video enhancement pipeline: denoise, sharpen, and
// contrast correction through an ffmpeg filter graph. Output lands next to a
// stable name derived from the input so reprocessing overwrites rather than
// accumulates.
type Enhancer struct {
	outputDir string
	logger    *logger.Logger
}

var _ processing.Processor = (*Enhancer)(nil)

// NewEnhancer creates an enhancer writing into outputDir.
func NewEnhancer(outputDir string, log *logger.Logger) (*Enhancer, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating enhanced directory: %w", err)
	}
	return &Enhancer{outputDir: outputDir, logger: log.With("component", "enhancer")}, nil
}

// Process enhances the video without progress reporting.
func (e *Enhancer) Process(ctx context.Context, path string) (string, error) {
	return e.ProcessWithProgress(ctx, path, nil)
}

// ProcessWithProgress enhances the video, reporting percentage progress
// derived from ffmpeg's machine-readable progress stream against the probed
// duration. The report callback may be nil.
func (e *Enhancer) ProcessWithProgress(ctx context.Context, path string, report func(int)) (string, error) {
	duration, err := videoDuration(ctx, path)
	if err != nil {
		e.logger.Warn(ctx, "could not probe video duration", "path", path, "error", err)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	outputPath := filepath.Join(e.outputDir, base+"_enhanced"+filepath.Ext(path))

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", path,
		"-vf", "hqdn3d=3:3:6:6,unsharp=5:5:0.8,eq=contrast=1.1:saturation=1.1",
		"-c:a", "copy",
		"-y",
		"-nostats",
		"-progress", "pipe:1",
		outputPath,
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("starting ffmpeg: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		progress, ok := parseProgressLine(scanner.Text(), duration)
		if ok && report != nil {
			report(progress)
		}
	}

	if err := cmd.Wait(); err != nil {
		_ = os.Remove(outputPath)
		return "", fmt.Errorf("ffmpeg: %w, stderr: %s", err, stderr.String())
	}

	e.logger.Info(ctx, "video enhanced", "input", path, "output", outputPath)
	return outputPath, nil
}

// parseProgressLine extracts a percentage from one line of ffmpeg's
// -progress output. Progress is capped below 100 so completion is only ever
// reported by the caller after ffmpeg exits cleanly.
func parseProgressLine(line string, duration float64) (int, bool) {
	value, found := strings.CutPrefix(line, "out_time_ms=")
	if !found || duration <= 0 {
		return 0, false
	}

	us, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, false
	}

	// out_time_ms is in microseconds despite the name.
	pct := int(us / 1e6 / duration * 100)
	if pct < 0 {
		pct = 0
	}
	if pct > 99 {
		pct = 99
	}
	return pct, true
}
