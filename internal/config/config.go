package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Data     DataConfig     `yaml:"data"`
	Ollama   OllamaConfig   `yaml:"ollama"`
	Timeline TimelineConfig `yaml:"timeline"`
	Images   ImagesConfig   `yaml:"images"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DataConfig struct {
	Dir    string `yaml:"dir"`
	ImgDir string `yaml:"img_dir"`
}

type OllamaConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	VisionModel    string        `yaml:"vision_model"`
	ReasonModel    string        `yaml:"reason_model"`
	CaptionTimeout time.Duration `yaml:"caption_timeout"`
	DiaryTimeout   time.Duration `yaml:"diary_timeout"`
}

type TimelineConfig struct {
	MaxEntries int `yaml:"max_entries"`
	Window     int `yaml:"window"`
}

type ImagesConfig struct {
	Keep        int  `yaml:"keep"`
	CaptionMaxW int  `yaml:"caption_max_w"`
	Rotate180   bool `yaml:"rotate_180"`
}

// Load reads configuration from a YAML file if it exists, applies environment
// variable overrides, then fills in defaults. A missing file is not an error:
// the portal is fully configurable through the environment.
func Load(path string) (*Config, error) {
	var cfg Config
	cfg.Images.Rotate180 = true

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	envString(&cfg.Server.Host, "HOST")
	envInt(&cfg.Server.Port, "PORT")
	envString(&cfg.Data.Dir, "DATA_DIR")
	envString(&cfg.Data.ImgDir, "IMG_DIR")
	envString(&cfg.Ollama.BaseURL, "OLLAMA_URL")
	envString(&cfg.Ollama.APIKey, "OLLAMA_API_KEY")
	envString(&cfg.Ollama.VisionModel, "VISION_MODEL")
	envString(&cfg.Ollama.ReasonModel, "REASON_MODEL")
	envInt(&cfg.Timeline.MaxEntries, "TIMELINE_MAX")
	envInt(&cfg.Timeline.Window, "DIARY_WINDOW")
	envInt(&cfg.Images.Keep, "IMG_KEEP")
	envInt(&cfg.Images.CaptionMaxW, "CAPTION_MAX_W")
	envSeconds(&cfg.Ollama.CaptionTimeout, "CAPTION_TIMEOUT")
	envSeconds(&cfg.Ollama.DiaryTimeout, "DIARY_TIMEOUT")

	if v := os.Getenv("ROTATE_180"); v != "" {
		cfg.Images.Rotate180 = v == "1"
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5055
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		// Reasoning requests can block a handler for up to the diary timeout.
		cfg.Server.WriteTimeout = 180 * time.Second
	}
	if cfg.Data.Dir == "" {
		home, _ := os.UserHomeDir()
		cfg.Data.Dir = filepath.Join(home, "documents", "diary_data")
	}
	if cfg.Data.ImgDir == "" {
		cfg.Data.ImgDir = filepath.Join(cfg.Data.Dir, "img")
	}
	if cfg.Ollama.BaseURL == "" {
		cfg.Ollama.BaseURL = "http://127.0.0.1:11434"
	}
	if cfg.Ollama.APIKey == "" {
		// Ollama's OpenAI-compatible endpoint ignores the key but the client requires one.
		cfg.Ollama.APIKey = "ollama"
	}
	if cfg.Ollama.VisionModel == "" {
		cfg.Ollama.VisionModel = "llava:7b"
	}
	if cfg.Ollama.ReasonModel == "" {
		cfg.Ollama.ReasonModel = "gpt-oss:20b"
	}
	if cfg.Ollama.CaptionTimeout == 0 {
		cfg.Ollama.CaptionTimeout = 60 * time.Second
	}
	if cfg.Ollama.DiaryTimeout == 0 {
		cfg.Ollama.DiaryTimeout = 120 * time.Second
	}
	if cfg.Timeline.MaxEntries == 0 {
		cfg.Timeline.MaxEntries = 400
	}
	if cfg.Timeline.Window == 0 {
		cfg.Timeline.Window = 40
	}
	if cfg.Images.Keep == 0 {
		cfg.Images.Keep = 300
	}
	if cfg.Images.CaptionMaxW == 0 {
		cfg.Images.CaptionMaxW = 640
	}
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envSeconds(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}
