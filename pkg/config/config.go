package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Security SecurityConfig `yaml:"security"`
	Executor ExecutorConfig `yaml:"executor"`
	Display  DisplayConfig  `yaml:"display"`
	Vision   VisionConfig   `yaml:"vision"`
	Session  SessionConfig  `yaml:"session"`
	Store    StoreConfig    `yaml:"store"`
	Gateway  GatewayConfig  `yaml:"gateway"`
}

type AppConfig struct {
	Name      string `yaml:"name"`
	Workspace string `yaml:"workspace"`
}

type SecurityConfig struct {
	// ValidationEnabled false is the explicit escape hatch for trusted
	// contexts: every command classifies as unrestricted.
	ValidationEnabled bool `yaml:"validation_enabled"`
	// AllowedCategories limits which command categories shell.run accepts.
	AllowedCategories []string `yaml:"allowed_categories"`
	// AllowDangerTools opts in to the disk/power management utilities that
	// are otherwise excluded from the process allowlist.
	AllowDangerTools bool `yaml:"allow_danger_tools"`
}

type ExecutorConfig struct {
	DefaultStepTimeout      time.Duration `yaml:"default_step_timeout"`
	DefaultPlanTimeout      time.Duration `yaml:"default_plan_timeout"`
	MaxRetriesPerStep       int           `yaml:"max_retries_per_step"`
	RetryBackoff            time.Duration `yaml:"retry_backoff"`
	PartialSuccessThreshold float64       `yaml:"partial_success_threshold"`
}

type DisplayConfig struct {
	// MaxCaptureWidth is the logical-pixel cap applied before a screenshot
	// is sent to the detector.
	MaxCaptureWidth int     `yaml:"max_capture_width"`
	PixelScale      float64 `yaml:"pixel_scale"`
}

type VisionConfig struct {
	DetectorURL   string        `yaml:"detector_url"`
	VerifierURL   string        `yaml:"verifier_url"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	MinConfidence float64       `yaml:"min_confidence"`
	OCRCacheTTL   time.Duration `yaml:"ocr_cache_ttl"`
}

type SessionConfig struct {
	IdleTTL  time.Duration `yaml:"idle_ttl"`
	Headless bool          `yaml:"headless"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type GatewayConfig struct {
	Listen string `yaml:"listen"`
}

// Load reads the YAML config at path and applies environment overrides.
// A .env file in the working directory is honored if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnv()

	if cfg.Executor.PartialSuccessThreshold <= 0 || cfg.Executor.PartialSuccessThreshold > 1 {
		return nil, fmt.Errorf("partial_success_threshold must be in (0, 1], got %v", cfg.Executor.PartialSuccessThreshold)
	}

	return cfg, nil
}

// Default returns the built-in configuration used when no file is present.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		App: AppConfig{
			Name:      "agentd",
			Workspace: home,
		},
		Security: SecurityConfig{
			ValidationEnabled: true,
			AllowedCategories: []string{"open_app", "system_info", "file_read"},
		},
		Executor: ExecutorConfig{
			DefaultStepTimeout:      30 * time.Second,
			DefaultPlanTimeout:      5 * time.Minute,
			MaxRetriesPerStep:       2,
			RetryBackoff:            500 * time.Millisecond,
			PartialSuccessThreshold: 0.70,
		},
		Display: DisplayConfig{
			MaxCaptureWidth: 1280,
			PixelScale:      0, // 0 = detect from the capture itself
		},
		Vision: VisionConfig{
			DetectorURL:   "http://localhost:3001/detect",
			VerifierURL:   "http://localhost:3001/verify",
			Timeout:       15 * time.Second,
			MinConfidence: 0.5,
			OCRCacheTTL:   3 * time.Second,
		},
		Session: SessionConfig{
			IdleTTL:  10 * time.Minute,
			Headless: false,
		},
		Store: StoreConfig{
			Path: "agentd.db",
		},
		Gateway: GatewayConfig{
			Listen: ":8745",
		},
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AGENTD_LISTEN"); v != "" {
		c.Gateway.Listen = v
	}
	if v := os.Getenv("AGENTD_DETECTOR_URL"); v != "" {
		c.Vision.DetectorURL = v
	}
	if v := os.Getenv("AGENTD_VERIFIER_URL"); v != "" {
		c.Vision.VerifierURL = v
	}
	if v := os.Getenv("AGENTD_VISION_API_KEY"); v != "" {
		c.Vision.APIKey = v
	}
	if v := os.Getenv("AGENTD_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("AGENTD_VALIDATION_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Security.ValidationEnabled = b
		}
	}
}
