package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Configuration struct {
	Server   ServerConfig   `json:"server"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
	Workflow WorkflowConfig `json:"workflow"`
	Notify   NotifyConfig   `json:"notify"`
	Storage  StorageConfig  `json:"storage"`
	Database DatabaseConfig `json:"database"`
}

type ServerConfig struct {
	Port         string        `json:"port"`
	BaseURL      string        `json:"base_url"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

type SecurityConfig struct {
	JWTSecret         string        `json:"jwt_secret"`
	TokenTTL          time.Duration `json:"token_ttl"`
	PasswordMinLength int           `json:"password_min_length"`
	PasswordMaxLength int           `json:"password_max_length"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// WorkflowConfig holds the approval-flow constants. ChairGroup is the
// designated group whose members may be placed on review lines.
type WorkflowConfig struct {
	ChairGroup    string `json:"chair_group"`
	CommentMaxLen int    `json:"comment_max_len"`
}

type NotifyConfig struct {
	Enabled   bool   `json:"enabled"`
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  string `json:"smtp_port"`
	FromAddr  string `json:"from_addr"`
	QueueSize int    `json:"queue_size"`
}

type StorageConfig struct {
	AttachmentRoot string `json:"attachment_root"`
}

type DatabaseConfig struct {
	Host            string `json:"host"`
	Port            string `json:"port"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	Name            string `json:"name"`
	SSLMode         string `json:"ssl_mode"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	MaxOpenConns    int    `json:"max_open_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime"`
}

var (
	config     *Configuration
	configOnce sync.Once
	configLock sync.RWMutex
)

func LoadConfig(filePath string) (*Configuration, error) {
	var err error

	configOnce.Do(func() {
		var file *os.File
		file, err = os.Open(filePath)
		if err != nil {
			err = fmt.Errorf("failed to open config file: %w", err)
			return
		}
		defer file.Close()

		decoder := json.NewDecoder(file)
		config = &Configuration{}
		err = decoder.Decode(config)
		if err != nil {
			err = fmt.Errorf("failed to decode config file: %w", err)
			return
		}

		applyDefaults(config)
	})

	return config, err
}

func applyDefaults(c *Configuration) {
	if c.Server.Port == "" {
		c.Server.Port = "8000"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}
	if c.Security.TokenTTL == 0 {
		c.Security.TokenTTL = 24 * time.Hour
	}
	if c.Workflow.ChairGroup == "" {
		c.Workflow.ChairGroup = "CHAIR"
	}
	if c.Workflow.CommentMaxLen == 0 {
		c.Workflow.CommentMaxLen = 300
	}
	if c.Notify.QueueSize == 0 {
		c.Notify.QueueSize = 256
	}
	if c.Storage.AttachmentRoot == "" {
		c.Storage.AttachmentRoot = "data/attachments"
	}
}

func GetConfig() *Configuration {
	configLock.RLock()
	defer configLock.RUnlock()
	return config
}

func UpdateConfig(updater func(*Configuration)) {
	configLock.Lock()
	defer configLock.Unlock()
	updater(config)
}

func InitializeDefaultConfig() *Configuration {
	configLock.Lock()
	defer configLock.Unlock()

	config = &Configuration{
		Server: ServerConfig{
			Port:         "8000",
			BaseURL:      "http://localhost:8000",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Security: SecurityConfig{
			JWTSecret:         "eapproval-dev-secret-change",
			TokenTTL:          24 * time.Hour,
			PasswordMinLength: 8,
			PasswordMaxLength: 64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Workflow: WorkflowConfig{
			ChairGroup:    "CHAIR",
			CommentMaxLen: 300,
		},
		Notify: NotifyConfig{
			Enabled:   false,
			SMTPHost:  "localhost",
			SMTPPort:  "25",
			FromAddr:  "approval@localhost",
			QueueSize: 256,
		},
		Storage: StorageConfig{
			AttachmentRoot: "data/attachments",
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            "5432",
			Username:        "postgres",
			Password:        "password",
			Name:            "eapproval",
			SSLMode:         "disable",
			MaxIdleConns:    10,
			MaxOpenConns:    100,
			ConnMaxLifetime: 300,
		},
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Security.JWTSecret = secret
	}

	return config
}

func LogConfig(logger *zap.Logger) {
	configLock.RLock()
	defer configLock.RUnlock()

	redactedConfig := *config
	redactedConfig.Security.JWTSecret = "[REDACTED]"
	redactedConfig.Database.Password = "[REDACTED]"

	logger.Info("Application configuration",
		zap.String("port", redactedConfig.Server.Port),
		zap.Duration("read_timeout", redactedConfig.Server.ReadTimeout),
		zap.Duration("write_timeout", redactedConfig.Server.WriteTimeout),
		zap.String("chair_group", redactedConfig.Workflow.ChairGroup),
		zap.Int("comment_max_len", redactedConfig.Workflow.CommentMaxLen),
		zap.Bool("notify_enabled", redactedConfig.Notify.Enabled),
		zap.String("attachment_root", redactedConfig.Storage.AttachmentRoot),
		zap.String("database_host", redactedConfig.Database.Host),
		zap.String("database_name", redactedConfig.Database.Name),
	)
}
