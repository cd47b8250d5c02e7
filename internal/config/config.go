package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DBDriver    string // postgres | sqlite
	DatabaseDSN string

	// HTTP
	ServerPort string

	// 落库加密 (供应商密码)
	EncryptionKey string

	// 同步锁、缓存按安装实例隔离
	InstallationID string

	// 供应商主机白名单
	SupplierAllowedHosts []string

	// 每日同步时间 (HH:MM, 本地时区)
	SyncTime     string
	SyncTimezone string

	// 活动日志最多保留条数
	ActivityLogMax int

	// 操作员认证 (为空时不启用)
	AdminJWTSecret   string
	AdminTokenTTLMin int

	// 手动同步 / 导入冷却 (秒)
	SyncCooldownSec   int
	ImportCooldownSec int

	// Feed 快照归档 (可选)
	AWSBucket          string
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string // S3 兼容存储，空表示 AWS
	StorageBasePath    string
}

func Load() (*Config, error) {
	// .env 不存在时直接使用环境变量
	_ = godotenv.Load()

	cfg := &Config{
		DBDriver:             getEnv("DB_DRIVER", "postgres"),
		DatabaseDSN:          getEnv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=supplier_feed port=5432 sslmode=disable TimeZone=UTC"),
		ServerPort:           getEnv("SERVER_PORT", "8080"),
		EncryptionKey:        getEnv("ENCRYPTION_KEY", ""),
		InstallationID:       getEnv("INSTALLATION_ID", "default"),
		SupplierAllowedHosts: getEnvAsList("SUPPLIER_ALLOWED_HOSTS", nil),
		SyncTime:             getEnv("SYNC_TIME", "03:00"),
		SyncTimezone:         getEnv("SYNC_TIMEZONE", "Local"),
		ActivityLogMax:       getEnvAsInt("ACTIVITY_LOG_MAX", 500),
		AdminJWTSecret:       getEnv("ADMIN_JWT_SECRET", ""),
		AdminTokenTTLMin:     getEnvAsInt("ADMIN_TOKEN_TTL_MIN", 120),
		SyncCooldownSec:      getEnvAsInt("SYNC_COOLDOWN_SEC", 60),
		ImportCooldownSec:    getEnvAsInt("IMPORT_COOLDOWN_SEC", 5),
		AWSBucket:            getEnv("AWS_BUCKET", ""),
		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:       getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpoint:          getEnv("AWS_ENDPOINT", ""),
		StorageBasePath:      getEnv("STORAGE_BASE_PATH", "supplier"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 启动前的必要检查
func (c *Config) Validate() error {
	if c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY 未配置")
	}
	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		return fmt.Errorf("不支持的 DB_DRIVER: %s", c.DBDriver)
	}
	if _, _, err := ParseClock(c.SyncTime); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.ActivityLogMax <= 0 {
		c.ActivityLogMax = 500
	}
	return nil
}

// Location 同步任务使用的时区
func (c *Config) Location() (*time.Location, error) {
	if c.SyncTimezone == "" || c.SyncTimezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.SyncTimezone)
	if err != nil {
		return nil, fmt.Errorf("无效的 SYNC_TIMEZONE %q: %w", c.SyncTimezone, err)
	}
	return loc, nil
}

// AuthEnabled 配置了密钥才校验操作员 token
func (c *Config) AuthEnabled() bool {
	return c.AdminJWTSecret != ""
}

// ArchiveEnabled 配置了 bucket 才启用快照归档
func (c *Config) ArchiveEnabled() bool {
	return c.AWSBucket != ""
}

// ParseClock 解析 HH:MM
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("无效的同步时间 %q，格式应为 HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsList 逗号分隔
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
