package web

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"robot-diary/server/internal/config"
	"robot-diary/server/internal/engine"
	"robot-diary/server/internal/imagestore"
	"robot-diary/server/internal/models"
	"robot-diary/server/internal/storage"
	"robot-diary/server/internal/timeline"
)

const (
	defaultTimelineLimit = 80
	maxUploadBytes       = 32 << 20
)

// WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local portal, same-host UI
	},
}

type Handlers struct {
	config    *config.Config
	store     *timeline.Store
	archiver  *storage.Archiver
	images    *imagestore.Store
	retention *imagestore.RetentionQueue
	captioner *engine.Captioner
	diary     *engine.DiaryEngine
	hub       *TimelineHub
}

func NewHandlers(
	cfg *config.Config,
	store *timeline.Store,
	archiver *storage.Archiver,
	images *imagestore.Store,
	retention *imagestore.RetentionQueue,
	captioner *engine.Captioner,
	diary *engine.DiaryEngine,
	hub *TimelineHub,
) *Handlers {
	return &Handlers{
		config:    cfg,
		store:     store,
		archiver:  archiver,
		images:    images,
		retention: retention,
		captioner: captioner,
		diary:     diary,
		hub:       hub,
	}
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func NewRouter(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	// Request logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("REQUEST: %s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	})

	r.Use(corsMiddleware)

	r.Get("/", h.Home)
	r.Get("/health", h.HealthCheck)
	r.Get("/img/{name}", h.ServeImage)
	r.Get("/timeline", h.Timeline)
	r.Get("/ws/timeline", h.TimelineFeed)

	r.Route("/api", func(r chi.Router) {
		r.Post("/post", h.PostEntry)
		r.Post("/travel", h.Travel)
		r.Post("/ask", h.Ask)
		r.Post("/new_journey", h.NewJourney)
		r.Get("/journeys", h.Journeys)
	})

	return r
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "robot-diary",
	})
}

// Home serves the embedded portal page.
func (h *Handlers) Home(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(indexPage)
}

// ServeImage serves a stored image file by name.
func (h *Handlers) ServeImage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid image name"})
		return
	}
	http.ServeFile(w, r, h.images.Path(name))
}

// Timeline returns up to the last N entries, newest first. This is the one
// place ordering is flipped for presentation.
func (h *Handlers) Timeline(w http.ResponseWriter, r *http.Request) {
	limit := defaultTimelineLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			limit = n
		}
	}

	tail := h.store.Tail(limit)
	reversed := make([]models.Entry, len(tail))
	for i, entry := range tail {
		reversed[len(tail)-1-i] = entry
	}
	writeJSON(w, http.StatusOK, reversed)
}

// PostEntry ingests a diary post: multipart title, text, meta (unused),
// reason, and an optional image file. Captioning failures are stored inline
// and never fail the request.
func (h *Handlers) PostEntry(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}

	title := r.FormValue("title")
	if title == "" {
		title = "update"
	}
	text := r.FormValue("text")
	_ = r.FormValue("meta") // accepted for compatibility, unused
	tag := r.FormValue("reason")

	var imgURL *string
	caption := ""

	if file, _, err := r.FormFile("image"); err == nil {
		raw, readErr := io.ReadAll(file)
		file.Close()
		if readErr != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read image"})
			return
		}

		fn, saveErr := h.images.Save(raw)
		if saveErr != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": saveErr.Error()})
			return
		}
		url := "/img/" + fn
		imgURL = &url

		if c, capErr := h.captioner.Caption(r.Context(), h.images.Path(fn)); capErr != nil {
			caption = fmt.Sprintf("(caption error) %v", capErr)
		} else {
			caption = c
		}

		// Trim images on disk, off the request path.
		h.retention.Kick()
	}

	entry := models.Entry{
		Timestamp: time.Now().Unix(),
		Title:     title,
		Text:      text,
		Image:     imgURL,
		Caption:   caption,
		Risk:      0,
		State:     "idle",
		Tag:       tag,
	}
	h.store.Append(entry)
	h.hub.Broadcast(entry)

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Travel composes a travel-diary entry from the recent window. On reasoning
// failure nothing is appended and the error is reported in the payload.
func (h *Handlers) Travel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Note string `json:"note"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	entry, err := h.diary.ComposeTravelEntry(r.Context(), strings.TrimSpace(req.Note))
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"error": fmt.Sprintf("(reasoning error) %v", err),
		})
		return
	}

	h.store.Append(entry)
	h.hub.Broadcast(entry)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Ask answers a question from the recent window. Never appends to the
// timeline; always yields an answer string.
func (h *Handlers) Ask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Q string `json:"q"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	answer := h.diary.Ask(r.Context(), strings.TrimSpace(req.Q))
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}

// NewJourney archives the current timeline, clears it, and advances the
// journey counter.
func (h *Handlers) NewJourney(w http.ResponseWriter, r *http.Request) {
	path, err := h.store.Reset(h.archiver)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"archived": path,
	})
}

// Journeys lists archived journey files, oldest first.
func (h *Handlers) Journeys(w http.ResponseWriter, r *http.Request) {
	paths, err := h.archiver.List()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"archives": names})
}

// TimelineFeed upgrades the connection and streams appended entries.
func (h *Handlers) TimelineFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &Client{
		ID:   generateClientID(),
		Conn: conn,
		Send: make(chan []byte, 256),
		Hub:  h.hub,
	}
	h.hub.register <- client

	go client.readPump()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[web] Failed to encode response: %v", err)
	}
}

// generateClientID generates a unique client ID
func generateClientID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().String()))[:16]
	}
	return hex.EncodeToString(b)
}
