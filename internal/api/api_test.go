package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/vidflow/internal/api"
	"github.com/ahrav/vidflow/internal/app/gateway"
	"github.com/ahrav/vidflow/internal/app/relay"
	"github.com/ahrav/vidflow/internal/domain/processing"
	"github.com/ahrav/vidflow/internal/infra/connections"
	"github.com/ahrav/vidflow/internal/infra/eventbus/memory"
	"github.com/ahrav/vidflow/internal/infra/state"
	"github.com/ahrav/vidflow/pkg/common/logger"
)

// nopMetrics satisfies every metrics interface the gateway wiring needs.
type nopMetrics struct{}

func (nopMetrics) IncConnectedClients()     {}
func (nopMetrics) DecConnectedClients()     {}
func (nopMetrics) SetConnectedClients(int)  {}
func (nopMetrics) IncEventsDelivered()      {}
func (nopMetrics) IncEventsDropped()        {}
func (nopMetrics) IncUploadsAccepted()      {}
func (nopMetrics) IncWorkPublished(string)  {}
func (nopMetrics) IncStatusApplied(string)  {}
func (nopMetrics) IncStatusRejected(string) {}

type testGateway struct {
	server *httptest.Server
	store  *state.FileStore
	broker *memory.Broker
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	ctx := context.Background()

	log := logger.NewWithHandler(slog.NewJSONHandler(io.Discard, nil))
	tracer := noop.NewTracerProvider().Tracer("test")

	dir := t.TempDir()
	store, err := state.NewFileStore(ctx, filepath.Join(dir, "processing_states.json"), log, tracer)
	require.NoError(t, err)

	broker := memory.NewBroker()
	registry := connections.NewClientRegistry(nopMetrics{}, log)

	svc, err := gateway.NewService(store, broker, registry, nopMetrics{}, filepath.Join(dir, "uploads"), log, tracer)
	require.NoError(t, err)

	statusRelay := relay.New(store, registry, nopMetrics{}, log, tracer)
	require.NoError(t, broker.SubscribeStatus(ctx, statusRelay.Handle))

	handler := api.Routes(api.Config{
		Build:    "test",
		Log:      log,
		Tracer:   tracer,
		Service:  svc,
		Registry: registry,
	})

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &testGateway{server: server, store: store, broker: broker}
}

func multipartUpload(t *testing.T, url, filename, clientID string, content []byte) *http.Response {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if clientID != "" {
		require.NoError(t, writer.WriteField("client_id", clientID))
	}
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	resp, err := http.Post(url+"/v1/videos", writer.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestUploadDispatchesAndSeedsRecords(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	var published []processing.WorkMessage
	for _, pt := range processing.ProcessTypes() {
		require.NoError(t, gw.broker.SubscribeWork(ctx, pt,
			func(_ context.Context, msg processing.WorkMessage) error {
				published = append(published, msg)
				return nil
			}))
	}

	resp := multipartUpload(t, gw.server.URL, "clip.mp4", "client-1", []byte("video-bytes"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decodeBody[struct {
		FileID   uuid.UUID `json:"file_id"`
		Filename string    `json:"filename"`
		Status   string    `json:"status"`
	}](t, resp)
	require.Equal(t, "clip.mp4", body.Filename)
	require.Equal(t, "uploaded", body.Status)

	require.Len(t, published, 2)
	for _, msg := range published {
		require.Equal(t, body.FileID, msg.FileID)
		require.Equal(t, "client-1", msg.ClientID)
	}

	// Both pipelines start out pending and queryable.
	for _, pt := range []string{"video_enhancement", "metadata_extraction"} {
		statusResp, err := http.Get(fmt.Sprintf("%s/v1/videos/%s/status/%s", gw.server.URL, body.FileID, pt))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, statusResp.StatusCode)

		rec := decodeBody[struct {
			Status   string `json:"status"`
			Progress int    `json:"progress"`
		}](t, statusResp)
		require.Equal(t, "pending", rec.Status)
		require.Zero(t, rec.Progress)
	}
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	gw := newTestGateway(t)

	resp := multipartUpload(t, gw.server.URL, "notes.txt", "", []byte("text"))
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusQueryErrors(t *testing.T) {
	gw := newTestGateway(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{name: "unknown file", path: "/v1/videos/" + uuid.NewString() + "/status/video_enhancement", want: http.StatusNotFound},
		{name: "bad file id", path: "/v1/videos/not-a-uuid/status/video_enhancement", want: http.StatusBadRequest},
		{name: "bad process type", path: "/v1/videos/" + uuid.NewString() + "/status/thumbnails", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(gw.server.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

// readEvent reads one push event, failing the test if none arrives in time.
func readEvent(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event map[string]any
	require.NoError(t, ws.ReadJSON(&event))
	return event
}

func TestPushFlowEndToEnd(t *testing.T) {
	gw := newTestGateway(t)
	ctx := context.Background()

	wsURL := strings.Replace(gw.server.URL, "http", "ws", 1) + "/ws/client-1"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	// Connection acknowledgment arrives first.
	event := readEvent(t, ws)
	require.Equal(t, "connection", event["type"])
	require.Equal(t, "client-1", event["client_id"])

	resp := multipartUpload(t, gw.server.URL, "clip.mp4", "client-1", []byte("video-bytes"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody[struct {
		FileID uuid.UUID `json:"file_id"`
	}](t, resp)

	event = readEvent(t, ws)
	require.Equal(t, "upload_status", event["type"])

	task, err := gw.store.GetTask(ctx, body.FileID)
	require.NoError(t, err)
	work := processing.NewWorkMessage(task, "/uploads/x.mp4", processing.ProcessTypeEnhancement)

	// A worker reports progress; the relay applies it and pushes.
	require.NoError(t, gw.broker.PublishStatus(ctx,
		processing.NewStatusMessage(work, processing.StatusProcessing, 50, "")))
	event = readEvent(t, ws)
	require.Equal(t, "status_update", event["type"])
	require.Equal(t, float64(50), event["progress"])

	// A stale lower-progress update is rejected and never pushed.
	require.NoError(t, gw.broker.PublishStatus(ctx,
		processing.NewStatusMessage(work, processing.StatusProcessing, 30, "")))

	require.NoError(t, gw.broker.PublishStatus(ctx,
		processing.NewStatusMessage(work, processing.StatusCompleted, 100, "")))
	event = readEvent(t, ws)
	require.Equal(t, "status_update", event["type"])
	require.Equal(t, "completed", event["status"])
	require.Equal(t, float64(100), event["progress"])

	rec, err := gw.store.Get(ctx, body.FileID, processing.ProcessTypeEnhancement)
	require.NoError(t, err)
	require.Equal(t, processing.StatusCompleted, rec.Status)
}
