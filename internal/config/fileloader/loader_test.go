package fileloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  api_addr: ":8080"
broker:
  url: "amqp://broker:5672/"
  prefetch: 4
processing:
  timeout: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := NewFileLoader(path).Load(context.Background())
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.APIAddr)
	require.Equal(t, "amqp://broker:5672/", cfg.Broker.URL)
	require.Equal(t, 4, cfg.Broker.Prefetch)
	require.Equal(t, 30*time.Second, cfg.Processing.Timeout)

	// Unset fields take defaults.
	require.Equal(t, ":9090", cfg.Server.MetricsAddr)
	require.Equal(t, int64(500), cfg.Server.MaxUploadSizeMB)
	require.Equal(t, 3, cfg.Processing.MaxAttempts)
	require.Equal(t, time.Minute, cfg.Processing.WatchdogInterval)
	require.Equal(t, "data/uploads", cfg.Storage.UploadDir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewFileLoader(filepath.Join(t.TempDir(), "absent.yaml")).Load(context.Background())
	require.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := NewFileLoader(path).Load(context.Background())
	require.Error(t, err)
}
