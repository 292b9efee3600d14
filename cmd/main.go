package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"robot-diary/server/internal/config"
	"robot-diary/server/internal/engine"
	"robot-diary/server/internal/imagestore"
	"robot-diary/server/internal/prompts"
	"robot-diary/server/internal/storage"
	"robot-diary/server/internal/timeline"
	"robot-diary/server/internal/web"
)

func main() {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(cfg.Data.Dir, 0755); err != nil {
		log.Fatalf("Failed to create data dir: %v", err)
	}
	if err := os.MkdirAll(cfg.Data.ImgDir, 0755); err != nil {
		log.Fatalf("Failed to create image dir: %v", err)
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stores
	store := timeline.NewStore(cfg.Timeline.MaxEntries)
	archiver := storage.NewArchiver(cfg.Data.Dir)
	images := imagestore.NewStore(cfg.Data.ImgDir, cfg.Images.Rotate180)
	retention := imagestore.NewRetentionQueue(images, cfg.Images.Keep)
	retention.Start(rootCtx)

	// Model-facing components
	modelClient := engine.NewModelClient(cfg.Ollama.BaseURL, cfg.Ollama.APIKey)
	templates := prompts.NewTemplateEngine()
	captioner := engine.NewCaptioner(modelClient, templates, cfg.Ollama.VisionModel, cfg.Images.CaptionMaxW, cfg.Ollama.CaptionTimeout)
	diary := engine.NewDiaryEngine(modelClient, templates, store, cfg.Ollama.ReasonModel, cfg.Timeline.Window, cfg.Ollama.DiaryTimeout)

	// Live feed hub
	hub := web.NewTimelineHub()
	go hub.Run()

	handlers := web.NewHandlers(cfg, store, archiver, images, retention, captioner, diary, hub)
	r := web.NewRouter(handlers)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("[diary-portal] data dir : %s", cfg.Data.Dir)
	log.Printf("[diary-portal] images   : %s", cfg.Data.ImgDir)
	log.Printf("[diary-portal] ollama   : %s", cfg.Ollama.BaseURL)
	log.Printf("[diary-portal] models   : vision=%s  diary=%s", cfg.Ollama.VisionModel, cfg.Ollama.ReasonModel)
	log.Printf("[diary-portal] limits   : window=%d  keep_img=%d  t_max=%d", cfg.Timeline.Window, cfg.Images.Keep, cfg.Timeline.MaxEntries)

	go func() {
		log.Printf("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
