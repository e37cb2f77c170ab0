package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the server configuration, loaded from an optional YAML file with
// environment variables layered on top. Env vars always win so containerized
// deployments can override a baked-in file.
type Config struct {
	HTTP struct {
		Port string `yaml:"port"`
	} `yaml:"http"`

	DB struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"db"`

	Scheduler struct {
		TimerInterval    time.Duration `yaml:"timer_interval"`
		HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
		SweepInterval    time.Duration `yaml:"sweep_interval"`
	} `yaml:"scheduler"`
}

// Load reads the config file at path (skipped when empty or missing), then a
// .env file if present, then the process environment.
func Load(path string) (Config, error) {
	var cfg Config
	cfg.HTTP.Port = "8080"
	cfg.DB.SSLMode = "disable"

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, errors.Wrapf(err, "read config file %s", path)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, errors.Wrapf(err, "parse config file %s", path)
			}
		}
	}

	// .env is a developer convenience; absence is normal.
	_ = godotenv.Load()

	overlay(&cfg.HTTP.Port, "HTTP_PORT")
	overlay(&cfg.DB.Username, "DB_USERNAME")
	overlay(&cfg.DB.Password, "DB_PASSWORD")
	overlay(&cfg.DB.Host, "DB_HOST")
	overlay(&cfg.DB.Port, "DB_PORT")
	overlay(&cfg.DB.Name, "DB_NAME")
	overlay(&cfg.DB.SSLMode, "DB_SSLMODE")

	return cfg, nil
}

func overlay(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// ConnString builds the Postgres connection string, or returns an error
// naming what is missing.
func (c Config) ConnString() (string, error) {
	if c.DB.Username == "" || c.DB.Host == "" || c.DB.Port == "" || c.DB.Name == "" {
		return "", errors.New("incomplete database config: username, host, port and name are required (DB_* env vars or the db section of the config file)")
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.Username, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name, c.DB.SSLMode), nil
}
