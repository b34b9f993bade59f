package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	ServerAddr string
	DataDir    string // 本地数据根目录：项目文件、媒体缓存、sqlite 索引
	ProjectID  string
	InstanceID string // 为空时启动时生成

	// 持久化后端 file|redis|mysql
	PersistBackend string
	ProjectFile    string

	// 媒体缓存
	MediaStore        string // disk|minio|memory
	MediaDir          string
	MediaProxyURL     string
	MediaMaxBytes     int64
	MediaFetchTimeout time.Duration
	MediaBlobPrefix   string

	SnapThresholdPx float64

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO配置
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioRegion    string

	// 认证，JWTSecret 为空时不启用
	JWTSecret         string
	JWTTTL            time.Duration
	AdminUser         string
	AdminPasswordHash string

	// 日志
	LogLevel      string
	LogConsole    bool
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			return v
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return fallback
}

// getEnvBool 支持 strconv.ParseBool 能识别的写法
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseBool(value); err == nil {
			return v
		}
	}
	return fallback
}

// getEnvDuration 解析 "3m"、"90s" 这类时长
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := time.ParseDuration(value); err == nil {
			return v
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}
	return FromEnv()
}

// FromEnv builds the config from the current environment only.
func FromEnv() *Config {
	dataDir := getEnv("DATA_DIR", "data")
	projectID := getEnv("PROJECT_ID", "default")

	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		DataDir:    dataDir,
		ProjectID:  projectID,
		InstanceID: os.Getenv("INSTANCE_ID"),

		PersistBackend: getEnv("PERSIST_BACKEND", "file"),
		ProjectFile:    getEnv("PROJECT_FILE", filepath.Join(dataDir, "projects", projectID+".json")),

		MediaStore:        getEnv("MEDIA_STORE", "disk"),
		MediaDir:          getEnv("MEDIA_DIR", filepath.Join(dataDir, "media")),
		MediaProxyURL:     os.Getenv("MEDIA_PROXY_URL"),
		MediaMaxBytes:     getEnvInt64("MEDIA_MAX_BYTES", 512<<20),
		MediaFetchTimeout: getEnvDuration("MEDIA_FETCH_TIMEOUT", 3*time.Minute),
		MediaBlobPrefix:   getEnv("MEDIA_BLOB_PREFIX", "/media/blob/"),

		SnapThresholdPx: getEnvFloat("SNAP_THRESHOLD_PX", 10),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // 密码不设默认值
		DBName:     getEnv("DB_NAME", "reelforge"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""), // 默认无密码
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "reelforge-media"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),

		JWTSecret:         os.Getenv("JWT_SECRET"),
		JWTTTL:            getEnvDuration("JWT_TTL", 24*time.Hour),
		AdminUser:         getEnv("ADMIN_USER", "admin"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogConsole:    getEnvBool("LOG_CONSOLE", false),
		LogFile:       os.Getenv("LOG_FILE"),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),
	}
}

// AuthEnabled 是否启用 API 认证
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}
