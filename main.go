package main

import (
	"log"
	"os"

	"TrackToVideo-server/config"
	"TrackToVideo-server/models"
	"TrackToVideo-server/routers"
	"TrackToVideo-server/routers/api"
	"TrackToVideo-server/service"
)

func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	for _, dir := range []string{cfg.Media.UploadsDir, cfg.Media.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("create media dir %s: %v", dir, err)
		}
	}

	db, err := models.InitDB(cfg.MySQL.DSN)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	store := models.NewGormStore(db)
	log.Println("database initialized")

	objects, err := service.NewMinIOStore(
		cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey,
		cfg.MinIO.Bucket, cfg.MinIO.UseSSL,
	)
	if err != nil {
		log.Fatalf("init object store: %v", err)
	}

	provider := service.NewGeminiProvider(
		cfg.Gemini.APIKey, cfg.Gemini.BaseURL,
		cfg.Gemini.AnalysisModel, cfg.Gemini.ImageModel,
	)
	encoder := service.NewFFmpegEncoder()

	queue := service.NewQueue(cfg.Redis.Addr, cfg.Redis.Password)
	defer queue.Close()

	pipeline := service.NewPipeline(store, provider, encoder, objects,
		cfg.Media.UploadsDir, cfg.Media.OutputDir)
	processor := service.NewProcessor(pipeline, cfg.Redis.Addr, cfg.Redis.Password, cfg.Pipeline.Concurrency)
	processor.Start()

	h := api.NewHandler(store, queue, encoder, objects,
		cfg.Media.UploadsDir, cfg.Media.OutputDir)
	r := routers.InitRouter(h)

	log.Printf("server starting on %s", cfg.Server.Port)
	if err := r.Run(cfg.Server.Port); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
