package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"robot-diary/server/internal/config"
	"robot-diary/server/internal/engine"
	"robot-diary/server/internal/imagestore"
	"robot-diary/server/internal/models"
	"robot-diary/server/internal/prompts"
	"robot-diary/server/internal/storage"
	"robot-diary/server/internal/timeline"
)

type env struct {
	srv     *httptest.Server
	store   *timeline.Store
	dataDir string
	imgDir  string
}

// modelResponder fakes Ollama's OpenAI-compatible chat completion endpoint.
func modelResponder(content string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]interface{}{
			"id":      "test",
			"object":  "chat.completion",
			"created": 0,
			"model":   "test",
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"message":       map[string]string{"role": "assistant", "content": content},
					"finish_reason": "stop",
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
}

// newEnv builds a full portal wired against the given fake model endpoint.
// A nil handler points the model client at an unreachable address.
func newEnv(t *testing.T, model http.Handler) *env {
	t.Helper()

	modelURL := "http://127.0.0.1:1"
	if model != nil {
		ms := httptest.NewServer(model)
		t.Cleanup(ms.Close)
		modelURL = ms.URL
	}

	dataDir := t.TempDir()
	imgDir := filepath.Join(dataDir, "img")
	require.NoError(t, os.MkdirAll(imgDir, 0755))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := timeline.NewStore(100)
	archiver := storage.NewArchiver(dataDir)
	images := imagestore.NewStore(imgDir, false)
	retention := imagestore.NewRetentionQueue(images, 300)
	retention.Start(ctx)

	modelClient := engine.NewModelClient(modelURL, "test")
	templates := prompts.NewTemplateEngine()
	captioner := engine.NewCaptioner(modelClient, templates, "llava:7b", 640, 2*time.Second)
	diary := engine.NewDiaryEngine(modelClient, templates, store, "gpt-oss:20b", 40, 2*time.Second)

	hub := NewTimelineHub()
	go hub.Run()

	cfg := &config.Config{}
	h := NewHandlers(cfg, store, archiver, images, retention, captioner, diary, hub)
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)

	return &env{srv: srv, store: store, dataDir: dataDir, imgDir: imgDir}
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := imaging.New(64, 48, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

func postMultipart(t *testing.T, url string, fields map[string]string, image []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", "frame.jpg")
		require.NoError(t, err)
		_, err = fw.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(url+"/api/post", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

func postJSON(t *testing.T, url string, payload interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestPostEntryNoImage(t *testing.T) {
	e := newEnv(t, nil)

	resp := postMultipart(t, e.srv.URL, map[string]string{
		"title":  "hello",
		"text":   "first post",
		"reason": "boot",
	}, nil)

	var out map[string]bool
	decodeJSON(t, resp, &out)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out["ok"])

	require.Equal(t, 1, e.store.Len())
	entry := e.store.Tail(1)[0]
	assert.Equal(t, "hello", entry.Title)
	assert.Equal(t, "first post", entry.Text)
	assert.Nil(t, entry.Image)
	assert.Empty(t, entry.Caption)
	assert.Equal(t, "boot", entry.Tag)
	assert.Equal(t, "idle", entry.State)
	assert.Zero(t, entry.Risk)
}

func TestPostEntryDefaultsTitle(t *testing.T) {
	e := newEnv(t, nil)
	resp := postMultipart(t, e.srv.URL, map[string]string{"text": "x"}, nil)
	resp.Body.Close()

	assert.Equal(t, "update", e.store.Tail(1)[0].Title)
}

func TestPostEntryWithImage(t *testing.T) {
	caption := "A robot in a hallway.\nwall: center, near"
	e := newEnv(t, modelResponder(caption))

	resp := postMultipart(t, e.srv.URL, map[string]string{"title": "frame"}, jpegBytes(t))
	var out map[string]bool
	decodeJSON(t, resp, &out)
	assert.True(t, out["ok"])

	require.Equal(t, 1, e.store.Len())
	entry := e.store.Tail(1)[0]
	require.NotNil(t, entry.Image)
	assert.True(t, strings.HasPrefix(*entry.Image, "/img/img_"))
	assert.Equal(t, caption, entry.Caption)

	// The stored file is servable through the image route.
	imgResp, err := http.Get(e.srv.URL + *entry.Image)
	require.NoError(t, err)
	defer imgResp.Body.Close()
	assert.Equal(t, http.StatusOK, imgResp.StatusCode)
	data, _ := io.ReadAll(imgResp.Body)
	assert.NotEmpty(t, data)
}

func TestPostEntryCaptionFailureIsNonFatal(t *testing.T) {
	// Model endpoint unreachable: captioning fails, ingestion must not.
	e := newEnv(t, nil)

	resp := postMultipart(t, e.srv.URL, nil, jpegBytes(t))
	var out map[string]bool
	decodeJSON(t, resp, &out)
	assert.True(t, out["ok"])

	entry := e.store.Tail(1)[0]
	require.NotNil(t, entry.Image)
	assert.Contains(t, entry.Caption, "(caption error)")
}

func TestTimelineNewestFirst(t *testing.T) {
	e := newEnv(t, nil)
	for i := 0; i < 3; i++ {
		e.store.Append(models.Entry{Timestamp: int64(1700000000 + i), Title: fmt.Sprintf("t%d", i), State: "idle"})
	}

	resp, err := http.Get(e.srv.URL + "/timeline?limit=2")
	require.NoError(t, err)

	var entries []models.Entry
	decodeJSON(t, resp, &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, "t2", entries[0].Title)
	assert.Equal(t, "t1", entries[1].Title)
}

func TestTimelineDefaultLimit(t *testing.T) {
	e := newEnv(t, nil)
	for i := 0; i < 90; i++ {
		e.store.Append(models.Entry{Title: fmt.Sprintf("t%d", i)})
	}

	resp, err := http.Get(e.srv.URL + "/timeline")
	require.NoError(t, err)

	var entries []models.Entry
	decodeJSON(t, resp, &entries)
	assert.Len(t, entries, 80)
	assert.Equal(t, "t89", entries[0].Title)
}

func TestAskEmptyTimelineNeverCrashes(t *testing.T) {
	e := newEnv(t, nil)

	resp := postJSON(t, e.srv.URL+"/api/ask", map[string]string{"q": ""})
	var out map[string]string
	decodeJSON(t, resp, &out)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, out["answer"], "(error contacting reasoning model)")
}

func TestAskReturnsAnswer(t *testing.T) {
	e := newEnv(t, modelResponder("All quiet on the corridor front."))
	e.store.Append(models.Entry{Title: "t0", State: "idle"})

	resp := postJSON(t, e.srv.URL+"/api/ask", map[string]string{"q": "status?"})
	var out map[string]string
	decodeJSON(t, resp, &out)

	assert.Equal(t, "All quiet on the corridor front.", out["answer"])
	assert.Equal(t, 1, e.store.Len(), "ask never appends")
}

func TestTravelAppendsTaggedEntry(t *testing.T) {
	e := newEnv(t, modelResponder("We wandered the east wing this morning."))

	resp := postJSON(t, e.srv.URL+"/api/travel", map[string]string{"note": "sunny"})
	var out map[string]interface{}
	decodeJSON(t, resp, &out)
	assert.Equal(t, true, out["ok"])

	require.Equal(t, 1, e.store.Len())
	entry := e.store.Tail(1)[0]
	assert.Equal(t, "travel diary", entry.Title)
	assert.Equal(t, engine.TravelTag, entry.Tag)
	assert.Equal(t, "We wandered the east wing this morning.", entry.Caption)
}

func TestTravelFailureLeavesTimelineUnmodified(t *testing.T) {
	e := newEnv(t, nil)

	resp := postJSON(t, e.srv.URL+"/api/travel", map[string]string{"note": ""})
	var out map[string]string
	decodeJSON(t, resp, &out)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, out["error"], "(reasoning error)")
	assert.Equal(t, 0, e.store.Len())
}

func TestNewJourneyArchivesAndResets(t *testing.T) {
	e := newEnv(t, nil)
	e.store.Append(models.Entry{Timestamp: 1700000000, Title: "t0", State: "idle"})
	e.store.Append(models.Entry{Timestamp: 1700000001, Title: "t1", State: "idle"})

	resp, err := http.Post(e.srv.URL+"/api/new_journey", "application/json", nil)
	require.NoError(t, err)

	var out struct {
		OK       bool   `json:"ok"`
		Archived string `json:"archived"`
	}
	decodeJSON(t, resp, &out)
	require.True(t, out.OK)
	require.NotEmpty(t, out.Archived)

	data, err := os.ReadFile(out.Archived)
	require.NoError(t, err)
	var snap models.JourneySnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, 1, snap.JourneyID)
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, "t0", snap.Entries[0].Title)
	assert.Equal(t, "t1", snap.Entries[1].Title)

	assert.Equal(t, 0, e.store.Len())
	assert.Equal(t, 2, e.store.JourneyID())
}

func TestJourneysListsArchives(t *testing.T) {
	e := newEnv(t, nil)
	e.store.Append(models.Entry{Title: "t0"})

	resp, err := http.Post(e.srv.URL+"/api/new_journey", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	listResp, err := http.Get(e.srv.URL + "/api/journeys")
	require.NoError(t, err)

	var out struct {
		Archives []string `json:"archives"`
	}
	decodeJSON(t, listResp, &out)
	require.Len(t, out.Archives, 1)
	assert.True(t, strings.HasPrefix(out.Archives[0], "journey_"))
}

func TestTimelineFeedPushesEntries(t *testing.T) {
	e := newEnv(t, nil)

	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws/timeline"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Let the hub register the client before broadcasting.
	time.Sleep(100 * time.Millisecond)

	resp := postMultipart(t, e.srv.URL, map[string]string{"title": "pushed"}, nil)
	resp.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame struct {
		Type string       `json:"type"`
		Data models.Entry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg, &frame))
	assert.Equal(t, "entry", frame.Type)
	assert.Equal(t, "pushed", frame.Data.Title)
}

func TestHealthCheck(t *testing.T) {
	e := newEnv(t, nil)

	resp, err := http.Get(e.srv.URL + "/health")
	require.NoError(t, err)

	var out map[string]string
	decodeJSON(t, resp, &out)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "robot-diary", out["service"])
}

func TestHomeServesPage(t *testing.T) {
	e := newEnv(t, nil)

	resp, err := http.Get(e.srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "Robot Diary")
}
