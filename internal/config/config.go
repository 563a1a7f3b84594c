package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	JWTSecret   string
	MongoURI    string
	DBName      string
	SkipAuth    bool
	Environment string
	AppId       string
	FSPath      string // Physical directory for uploaded import files

	// Ingestion pipeline tunables
	ImportBatchSize        int // rows committed per batch
	ImportMaxConcurrent    int // jobs allowed in processing at once
	ImportMaxFailedBatches int // persistence-failed batches tolerated before the job fails
	ImportRetentionDays    int // days to keep uploaded files of finished jobs
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		JWTSecret:   getEnv("JWT_SECRET", "secret"),
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DBName:      getEnv("DB_NAME", "assettrack"),
		SkipAuth:    getEnv("SKIP_AUTH", "false") == "true",
		Environment: getEnv("ENVIRONMENT", "development"),
		AppId:       getEnv("APP_ID", "assettrack"),
		FSPath:      getEnv("FS_PATH", "./uploads"),

		ImportBatchSize:        getEnvInt("IMPORT_BATCH_SIZE", 1000),
		ImportMaxConcurrent:    getEnvInt("IMPORT_MAX_CONCURRENT", 3),
		ImportMaxFailedBatches: getEnvInt("IMPORT_MAX_FAILED_BATCHES", 5),
		ImportRetentionDays:    getEnvInt("IMPORT_RETENTION_DAYS", 30),
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
