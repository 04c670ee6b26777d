package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	defaultEmbeddingDim    = 512
	defaultDedupThreshold  = 0.99
	defaultSearchThreshold = 0.3
	defaultSearchCount     = 2

	defaultSessionTimeout    = 10 * time.Minute
	defaultSweepInterval     = time.Minute
	defaultReconcileGrace    = 5 * time.Minute
	defaultReconcileInterval = 15 * time.Minute
)

type Config struct {
	// server
	ListenAddr string

	// database path
	DatabasePath string

	// storage roots
	MediaStoragePath   string // registered face crops and aligned detection output
	SessionStoragePath string // per-session upload areas
	IndexPath          string // vector index manifest

	// embedding and matching settings
	EmbeddingDim    int
	DedupThreshold  float64
	SearchThreshold float64
	SearchCount     int

	// session lifecycle
	SessionTimeout time.Duration
	SweepInterval  time.Duration

	// store reconciliation
	ReconcileGrace    time.Duration
	ReconcileInterval time.Duration

	// inference model paths
	DetectorModelPath string
	EmbedderModelPath string
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvFloatOrDefault(envVar string, defaultVal float64) float64 {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseFloat(valStr, 64)
	if err != nil || val <= 0 || val > 1 {
		log.Printf("Warning: Invalid %s '%s'. Using default %g. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvDurationOrDefault(envVar string, defaultVal time.Duration) time.Duration {
	valStr := os.Getenv(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := time.ParseDuration(valStr)
	if err != nil || val <= 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %s. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func LoadConfig() (Config, error) {
	dbPath := getEnvOrDefault("DATABASE_PATH", "faces.db")

	mediaStorage := getEnvOrDefault("MEDIA_STORAGE_PATH", filepath.Join(".", "media_storage"))
	absMediaStorage, err := filepath.Abs(mediaStorage)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for media storage '%s': %w", mediaStorage, err)
	}

	sessionStorage := getEnvOrDefault("SESSION_STORAGE_PATH", filepath.Join(".", "session_storage"))
	absSessionStorage, err := filepath.Abs(sessionStorage)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for session storage '%s': %w", sessionStorage, err)
	}

	indexPath := getEnvOrDefault("INDEX_PATH", filepath.Join(absMediaStorage, "face_index.gob"))

	cfg := Config{
		ListenAddr:         getEnvOrDefault("LISTEN_ADDR", ":8080"),
		DatabasePath:       dbPath,
		MediaStoragePath:   absMediaStorage,
		SessionStoragePath: absSessionStorage,
		IndexPath:          indexPath,

		EmbeddingDim:    getEnvIntOrDefault("EMBEDDING_DIM", defaultEmbeddingDim),
		DedupThreshold:  getEnvFloatOrDefault("DEDUP_THRESHOLD", defaultDedupThreshold),
		SearchThreshold: getEnvFloatOrDefault("SEARCH_THRESHOLD", defaultSearchThreshold),
		SearchCount:     getEnvIntOrDefault("SEARCH_RESULT_COUNT", defaultSearchCount),

		SessionTimeout: getEnvDurationOrDefault("SESSION_TIMEOUT", defaultSessionTimeout),
		SweepInterval:  getEnvDurationOrDefault("SWEEP_INTERVAL", defaultSweepInterval),

		ReconcileGrace:    getEnvDurationOrDefault("RECONCILE_GRACE", defaultReconcileGrace),
		ReconcileInterval: getEnvDurationOrDefault("RECONCILE_INTERVAL", defaultReconcileInterval),

		DetectorModelPath: getEnvOrDefault("DETECTOR_MODEL_PATH", "./models/retinaface.onnx"),
		EmbedderModelPath: getEnvOrDefault("EMBEDDER_MODEL_PATH", "./models/arcface.onnx"),
	}

	return cfg, nil
}
