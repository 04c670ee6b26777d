package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/camden-git/faceregistry/config"
	"github.com/camden-git/faceregistry/database"
	"github.com/camden-git/faceregistry/handlers"
	"github.com/camden-git/faceregistry/hardware"
	"github.com/camden-git/faceregistry/media"
	"github.com/camden-git/faceregistry/realtime"
	"github.com/camden-git/faceregistry/repository"
	"github.com/camden-git/faceregistry/services"
	"github.com/camden-git/faceregistry/sessions"
	"github.com/camden-git/faceregistry/vectorindex"
	"github.com/camden-git/faceregistry/workers"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Printf("Info: No .env file found or error loading: %v", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	storagePaths := []string{cfg.MediaStoragePath, cfg.SessionStoragePath, filepath.Dir(cfg.DatabasePath)}
	for _, p := range storagePaths {
		log.Printf("Ensuring storage directory exists: %s", p)
		if err := os.MkdirAll(p, 0755); err != nil {
			log.Fatalf("FATAL: Failed to create storage directory %s: %v", p, err)
		}
	}

	db, err := database.InitGormDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database: %v", err)
	}
	if err := database.AutoMigrateModels(db); err != nil {
		log.Fatalf("FATAL: Failed to migrate database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("FATAL: Failed to access underlying database handle: %v", err)
	}
	defer sqlDB.Close()

	mediaStore, err := media.NewLocalStorage(cfg.MediaStoragePath)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize media store: %v", err)
	}

	index := vectorindex.NewIndex(cfg.EmbeddingDim)
	if err := index.Load(cfg.IndexPath); err != nil {
		log.Fatalf("FATAL: Failed to load vector index from %s: %v", cfg.IndexPath, err)
	}

	registry, err := sessions.NewRegistry(cfg.SessionStoragePath)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize session registry: %v", err)
	}
	arbiter := hardware.NewArbiter()

	versionRepo := repository.NewStoreVersionRepository(db)
	personRepo := repository.NewPersonRepository(db, versionRepo)
	faceRepo := repository.NewFaceRepository(db, versionRepo)

	detector := media.NewRetinaFaceDetector(cfg.DetectorModelPath)
	defer detector.Close()
	embedder := media.NewDNNEmbedder(cfg.EmbedderModelPath, cfg.EmbeddingDim)
	defer embedder.Close()
	aligner := media.NewCropAligner()

	hub := realtime.NewHub(registry)
	go hub.Run()

	service := services.NewRecognitionService(
		personRepo, faceRepo, versionRepo,
		index, mediaStore, arbiter, registry,
		detector, embedder, aligner, hub,
		float32(cfg.DedupThreshold), float32(cfg.SearchThreshold), cfg.SearchCount,
	)

	sweeper := workers.NewSessionSweeper(registry, cfg.SessionTimeout, cfg.SweepInterval)
	reconciler := workers.NewReconciler(sqlDB, faceRepo, personRepo, index, mediaStore, cfg.ReconcileGrace, cfg.ReconcileInterval)

	log.Printf("Using database: %s", cfg.DatabasePath)
	log.Printf("Vector index: %s (%d entries, dim %d)", cfg.IndexPath, index.Len(), cfg.EmbeddingDim)
	log.Printf("Thresholds: dedup %.2f, search %.2f (top %d)", cfg.DedupThreshold, cfg.SearchThreshold, cfg.SearchCount)

	r := chi.NewRouter()

	corsOptions := cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173"}, //TODO: configurable
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	corsHandler := cors.New(corsOptions)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsHandler.Handler)

	personHandler := &handlers.PersonHandler{Service: service}
	faceHandler := &handlers.FaceHandler{Service: service, Store: mediaStore}
	sessionHandler := &handlers.SessionHandler{Registry: registry}
	recognitionHandler := &handlers.RecognitionHandler{Service: service}

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", recognitionHandler.Version)
		r.Post("/register", recognitionHandler.Register)
		r.Post("/search", recognitionHandler.Search)

		r.Route("/people", func(r chi.Router) {
			r.Get("/", personHandler.ListPeople)
			r.Route("/{person_id}", func(r chi.Router) {
				r.Get("/", personHandler.GetPerson)
				r.Patch("/", personHandler.UpdatePerson)
				r.Delete("/", personHandler.DeletePerson)
				r.Post("/restore", personHandler.RestorePerson)
			})
		})

		r.Route("/faces", func(r chi.Router) {
			r.Route("/{face_id}", func(r chi.Router) {
				r.Get("/", faceHandler.GetFace)
				r.Get("/image", faceHandler.GetFaceImage)
				r.Put("/", faceHandler.ReassignFace)
				r.Delete("/", faceHandler.DeleteFace)
			})
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.CreateSession)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Delete("/", sessionHandler.DeleteSession)
				r.Post("/files", sessionHandler.UploadFile)
				r.Post("/recognize", recognitionHandler.Recognize)
				r.Post("/register", recognitionHandler.RegisterUpload)
				r.Post("/register-batch", recognitionHandler.BatchRegisterUploads)
			})
		})
	})

	r.Get("/ws", hub.ServeWS)

	log.Printf("Server listening on %s", cfg.ListenAddr)
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("FATAL: Server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during server shutdown: %v", err)
	}

	sweeper.Stop()
	reconciler.Stop()
	if err := index.Save(); err != nil {
		log.Printf("Error saving vector index: %v", err)
	}
	log.Println("Shutdown complete")
}
