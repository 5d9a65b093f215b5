package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
	Gemini struct {
		APIKey        string `yaml:"api_key"`
		BaseURL       string `yaml:"base_url"`
		AnalysisModel string `yaml:"analysis_model"`
		ImageModel    string `yaml:"image_model"`
	} `yaml:"gemini"`
	MinIO struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
	} `yaml:"minio"`
	Media struct {
		UploadsDir string `yaml:"uploads_dir"`
		OutputDir  string `yaml:"output_dir"`
	} `yaml:"media"`
	Pipeline struct {
		Concurrency int `yaml:"concurrency"`
	} `yaml:"pipeline"`
}

// Load reads the yaml config file and fills in defaults for optional fields.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := &Config{}
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
	if cfg.Media.UploadsDir == "" {
		cfg.Media.UploadsDir = "uploads"
	}
	if cfg.Media.OutputDir == "" {
		cfg.Media.OutputDir = "generated"
	}
	if cfg.Pipeline.Concurrency <= 0 {
		cfg.Pipeline.Concurrency = 5
	}
	return cfg, nil
}
