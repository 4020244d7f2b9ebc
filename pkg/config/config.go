// Package config loads the client configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Service ServiceConfig `yaml:"service"`
	Capture CaptureConfig `yaml:"capture"`
	Storage StorageConfig `yaml:"storage"`
}

type ServiceConfig struct {
	APIKey        string `yaml:"api_key"`
	LiveURL       string `yaml:"live_url"`
	LiveModel     string `yaml:"live_model"`
	StrategyModel string `yaml:"strategy_model"`
	Voice         string `yaml:"voice"`
}

type CaptureConfig struct {
	FFmpegPath  string `yaml:"ffmpeg_path"`
	AudioFormat string `yaml:"audio_format"`
	AudioDevice string `yaml:"audio_device"`
	VideoFormat string `yaml:"video_format"`
	VideoDevice string `yaml:"video_device"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			LiveModel:     "gemini-2.5-flash-native-audio-preview",
			StrategyModel: "gemini-2.5-flash",
			Voice:         "Puck",
		},
		Capture: CaptureConfig{
			FFmpegPath:  "ffmpeg",
			AudioFormat: "pulse",
			AudioDevice: "default",
			VideoFormat: "v4l2",
			VideoDevice: "/dev/video0",
		},
		Storage: StorageConfig{
			Path: "repcoach.db",
		},
	}
}

// Load reads config from a YAML file, then applies environment variable
// overrides. A missing file is not an error: defaults plus environment are
// used. Env vars use the prefix REPCOACH_ and underscore-separated paths:
//
//	REPCOACH_SERVICE_API_KEY, REPCOACH_SERVICE_LIVE_URL,
//	REPCOACH_SERVICE_LIVE_MODEL, REPCOACH_SERVICE_STRATEGY_MODEL,
//	REPCOACH_SERVICE_VOICE,
//	REPCOACH_CAPTURE_FFMPEG_PATH, REPCOACH_CAPTURE_AUDIO_FORMAT,
//	REPCOACH_CAPTURE_AUDIO_DEVICE, REPCOACH_CAPTURE_VIDEO_FORMAT,
//	REPCOACH_CAPTURE_VIDEO_DEVICE,
//	REPCOACH_STORAGE_PATH
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case os.IsNotExist(err):
		// defaults + env only
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REPCOACH_SERVICE_API_KEY"); v != "" {
		cfg.Service.APIKey = v
	}
	if v := os.Getenv("REPCOACH_SERVICE_LIVE_URL"); v != "" {
		cfg.Service.LiveURL = v
	}
	if v := os.Getenv("REPCOACH_SERVICE_LIVE_MODEL"); v != "" {
		cfg.Service.LiveModel = v
	}
	if v := os.Getenv("REPCOACH_SERVICE_STRATEGY_MODEL"); v != "" {
		cfg.Service.StrategyModel = v
	}
	if v := os.Getenv("REPCOACH_SERVICE_VOICE"); v != "" {
		cfg.Service.Voice = v
	}
	if v := os.Getenv("REPCOACH_CAPTURE_FFMPEG_PATH"); v != "" {
		cfg.Capture.FFmpegPath = v
	}
	if v := os.Getenv("REPCOACH_CAPTURE_AUDIO_FORMAT"); v != "" {
		cfg.Capture.AudioFormat = v
	}
	if v := os.Getenv("REPCOACH_CAPTURE_AUDIO_DEVICE"); v != "" {
		cfg.Capture.AudioDevice = v
	}
	if v := os.Getenv("REPCOACH_CAPTURE_VIDEO_FORMAT"); v != "" {
		cfg.Capture.VideoFormat = v
	}
	if v := os.Getenv("REPCOACH_CAPTURE_VIDEO_DEVICE"); v != "" {
		cfg.Capture.VideoDevice = v
	}
	if v := os.Getenv("REPCOACH_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
}

func (c *Config) validate() error {
	if c.Service.APIKey == "" {
		return fmt.Errorf("service.api_key is required")
	}
	if c.Service.LiveURL == "" {
		return fmt.Errorf("service.live_url is required")
	}
	if c.Service.LiveModel == "" {
		return fmt.Errorf("service.live_model is required")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	return nil
}
