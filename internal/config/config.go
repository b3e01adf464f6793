package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bryanwahyu/vendor-compliance/internal/infra/db/mysql"
)

type Retry struct {
	BaseDelay   time.Duration `yaml:"baseDelay"`
	MaxDelay    time.Duration `yaml:"maxDelay"`
	MaxAttempts int           `yaml:"maxAttempts"`
}

// Bands are percentages of the progress range per pipeline stage.
type Bands struct {
	Setup         float64 `yaml:"setup"`
	Documents     float64 `yaml:"documents"`
	Consolidation float64 `yaml:"consolidation"`
	Summary       float64 `yaml:"summary"`
}

type Config struct {
	Server struct {
		Port            int               `yaml:"port"`
		ReadTimeout     time.Duration     `yaml:"readTimeout"`
		WriteTimeout    time.Duration     `yaml:"writeTimeout"`
		ShutdownTimeout time.Duration     `yaml:"shutdownTimeout"`
		CORSOrigins     []string          `yaml:"corsOrigins"`
		APIKeys         map[string]string `yaml:"apiKeys"`
	} `yaml:"server"`

	RateLimit struct {
		RequestsPerSecond float64 `yaml:"requestsPerSecond"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rateLimit"`

	Database struct {
		Driver   string `yaml:"driver"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	Minio struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	OpenAI struct {
		APIKey  string        `yaml:"apiKey"`
		Model   string        `yaml:"model"`
		BaseURL string        `yaml:"baseURL"`
		Timeout time.Duration `yaml:"timeout"`
		// 0 keeps the client default
		MaxTokens int `yaml:"maxTokens"`
	} `yaml:"openai"`

	Analysis struct {
		DefaultFrameworks []string      `yaml:"defaultFrameworks"`
		TrustedPatterns   []string      `yaml:"trustedPatterns"`
		DocumentPause     time.Duration `yaml:"documentPause"`
		MaxDocumentChars  int           `yaml:"maxDocumentChars"`
		Retry             Retry         `yaml:"retry"`
		Bands             Bands         `yaml:"bands"`
	} `yaml:"analysis"`

	Uploads struct {
		Dir               string        `yaml:"dir"`
		MaxFileSizeMB     int64         `yaml:"maxFileSizeMB"`
		MaxTotalSizeMB    int64         `yaml:"maxTotalSizeMB"`
		AllowedExtensions []string      `yaml:"allowedExtensions"`
		SessionTTL        time.Duration `yaml:"sessionTTL"`
		SweepInterval     time.Duration `yaml:"sweepInterval"`
	} `yaml:"uploads"`
}

// Default returns a config that runs fully in-process.
func Default() *Config {
	var c Config
	c.Server.Port = 8000
	c.Server.ReadTimeout = 30 * time.Second
	c.Server.WriteTimeout = 60 * time.Second
	c.Server.ShutdownTimeout = 15 * time.Second
	c.Server.CORSOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}

	c.RateLimit.RequestsPerSecond = 10
	c.RateLimit.Burst = 20

	c.Database.Driver = "memory"
	c.Database.SSLMode = "disable"

	c.Minio.BucketName = "compliance-reports"
	c.Minio.Region = "us-east-1"

	c.OpenAI.Model = "gpt-4o"
	c.OpenAI.Timeout = 120 * time.Second

	c.Analysis.DefaultFrameworks = []string{"SOC2", "ISO27001", "NIST_CSF"}
	c.Analysis.DocumentPause = time.Second
	c.Analysis.MaxDocumentChars = 100000
	c.Analysis.Retry = Retry{BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second, MaxAttempts: 5}
	c.Analysis.Bands = Bands{Setup: 5, Documents: 70, Consolidation: 15, Summary: 10}

	c.Uploads.Dir = "uploads"
	c.Uploads.MaxFileSizeMB = 100
	c.Uploads.MaxTotalSizeMB = 500
	c.Uploads.SessionTTL = 24 * time.Hour
	c.Uploads.SweepInterval = time.Hour
	return &c
}

// Load baca file config.yaml on top of Default. A missing file is not an
// error; secrets can come from the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns CONFIG_PATH or config.yaml.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		c.Minio.SecretKey = v
	}
}

// Validate checks the loaded values and lowercases database.driver in place.
func (c *Config) Validate() error {
	b := c.Analysis.Bands
	for _, v := range []float64{b.Setup, b.Documents, b.Consolidation, b.Summary} {
		if v < 0 {
			return fmt.Errorf("analysis.bands: negative band %v", v)
		}
	}
	if sum := b.Setup + b.Documents + b.Consolidation + b.Summary; math.Abs(sum-100) > 1e-9 {
		return fmt.Errorf("analysis.bands: must sum to 100, got %v", sum)
	}
	if c.Analysis.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("analysis.retry.maxAttempts must be positive")
	}
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case "memory", "mysql", "postgres":
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}
	if c.Minio.Enabled && c.Minio.Endpoint == "" {
		return fmt.Errorf("minio.endpoint is required when minio is enabled")
	}
	return nil
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return mysql.DSN(c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.Name)
}

// PostgresDSN builds a lib/pq key=value DSN.
func (c *Config) PostgresDSN() string {
	ssl := c.Database.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password='%s' dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User,
		strings.ReplaceAll(c.Database.Password, "'", `\'`), c.Database.Name, ssl)
}
