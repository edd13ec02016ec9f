// Package config loads musicd's layered configuration from flags, environment
// variables, and an optional config file.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Paths    PathsConfig    `mapstructure:"paths"`
	Runtime  RuntimeConfig  `mapstructure:"runtime"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Backends BackendsConfig `mapstructure:"backends"`
	LogLevel string         `mapstructure:"log_level"`
	HFToken  string         `mapstructure:"hf_token"`
}

type PathsConfig struct {
	MusicGenModelDir string `mapstructure:"musicgen_model_dir"`
	AceStepModelDir  string `mapstructure:"ace_step_model_dir"`
}

type RuntimeConfig struct {
	Device         string `mapstructure:"device"` // auto|cpu|cuda|metal
	Threads        int    `mapstructure:"threads"`
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
}

type CacheConfig struct {
	Dir      string `mapstructure:"dir"`
	MaxMB    int    `mapstructure:"max_mb"`
	MaxCount int    `mapstructure:"max_tracks"`
}

type QueueConfig struct {
	MaxSize int `mapstructure:"max_size"`
}

type BackendsConfig struct {
	Default          string  `mapstructure:"default"`
	AceStepSteps     int     `mapstructure:"ace_step_default_steps"`
	AceStepScheduler string  `mapstructure:"ace_step_default_scheduler"`
	AceStepGuidance  float64 `mapstructure:"ace_step_default_guidance"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			MusicGenModelDir: "models/musicgen",
			AceStepModelDir:  "models/ace_step",
		},
		Runtime: RuntimeConfig{
			Device:         "auto",
			Threads:        0,
			ORTLibraryPath: "",
			ORTVersion:     "",
		},
		Cache: CacheConfig{
			Dir:      "cache",
			MaxMB:    2048,
			MaxCount: 0,
		},
		Queue: QueueConfig{
			MaxSize: 10,
		},
		Backends: BackendsConfig{
			Default:          "musicgen",
			AceStepSteps:     60,
			AceStepScheduler: "euler",
			AceStepGuidance:  15.0,
		},
		LogLevel: "info",
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-musicgen-model-dir", defaults.Paths.MusicGenModelDir, "MusicGen (AR) model asset directory")
	fs.String("paths-ace-step-model-dir", defaults.Paths.AceStepModelDir, "ACE-Step (diffusion) model asset directory")
	fs.String("runtime-device", defaults.Runtime.Device, "ONNX execution provider: auto|cpu|cuda|metal")
	fs.Int("runtime-threads", defaults.Runtime.Threads, "ONNX Runtime intra-op thread count (0 = auto)")
	fs.String("runtime-ort-library-path", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library (alias for --runtime-ort-library-path)")
	fs.String("runtime-ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.String("cache-dir", defaults.Cache.Dir, "Track cache root directory")
	fs.Int("cache-max-mb", defaults.Cache.MaxMB, "Track cache LRU size ceiling in MB")
	fs.Int("cache-max-tracks", defaults.Cache.MaxCount, "Track cache LRU count ceiling (0 = unbounded)")
	fs.Int("queue-max-size", defaults.Queue.MaxSize, "Job queue admission bound")
	fs.String("backends-default", defaults.Backends.Default, "Default backend when a request omits one")
	fs.Int("backends-ace-step-default-steps", defaults.Backends.AceStepSteps, "Default diffusion inference step count")
	fs.String("backends-ace-step-default-scheduler", defaults.Backends.AceStepScheduler, "Default diffusion scheduler: euler|heun|pingpong")
	fs.Float64("backends-ace-step-default-guidance", defaults.Backends.AceStepGuidance, "Default diffusion guidance scale")
	fs.String("log-level", defaults.LogLevel, "Log level: debug|info|warn|error")
	fs.String("hf-token", defaults.HFToken, "Bearer token for gated model-asset downloads")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("MUSICD")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("runtime.ort_library_path", "MUSICD_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	if err := v.BindEnv("hf_token", "MUSICD_HF_TOKEN", "HF_TOKEN"); err != nil {
		return Config{}, fmt.Errorf("bind hf token env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("musicd")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.musicgen_model_dir", c.Paths.MusicGenModelDir)
	v.SetDefault("paths.ace_step_model_dir", c.Paths.AceStepModelDir)
	v.SetDefault("runtime.device", c.Runtime.Device)
	v.SetDefault("runtime.threads", c.Runtime.Threads)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("cache.dir", c.Cache.Dir)
	v.SetDefault("cache.max_mb", c.Cache.MaxMB)
	v.SetDefault("cache.max_tracks", c.Cache.MaxCount)
	v.SetDefault("queue.max_size", c.Queue.MaxSize)
	v.SetDefault("backends.default", c.Backends.Default)
	v.SetDefault("backends.ace_step_default_steps", c.Backends.AceStepSteps)
	v.SetDefault("backends.ace_step_default_scheduler", c.Backends.AceStepScheduler)
	v.SetDefault("backends.ace_step_default_guidance", c.Backends.AceStepGuidance)
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("hf_token", c.HFToken)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("paths.musicgen_model_dir", "paths-musicgen-model-dir")
	v.RegisterAlias("paths.ace_step_model_dir", "paths-ace-step-model-dir")
	v.RegisterAlias("runtime.device", "runtime-device")
	v.RegisterAlias("runtime.threads", "runtime-threads")
	v.RegisterAlias("runtime.ort_library_path", "runtime-ort-library-path")
	v.RegisterAlias("runtime.ort_library_path", "ort-lib")
	v.RegisterAlias("runtime.ort_version", "runtime-ort-version")
	v.RegisterAlias("cache.dir", "cache-dir")
	v.RegisterAlias("cache.max_mb", "cache-max-mb")
	v.RegisterAlias("cache.max_tracks", "cache-max-tracks")
	v.RegisterAlias("queue.max_size", "queue-max-size")
	v.RegisterAlias("backends.default", "backends-default")
	v.RegisterAlias("backends.ace_step_default_steps", "backends-ace-step-default-steps")
	v.RegisterAlias("backends.ace_step_default_scheduler", "backends-ace-step-default-scheduler")
	v.RegisterAlias("backends.ace_step_default_guidance", "backends-ace-step-default-guidance")
	v.RegisterAlias("log_level", "log-level")
	v.RegisterAlias("hf_token", "hf-token")
}

// ParseDevice validates the runtime.device option against the supported set.
func ParseDevice(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "auto":
		return "auto", nil
	case "cpu":
		return "cpu", nil
	case "cuda":
		return "cuda", nil
	case "metal":
		return "metal", nil
	default:
		return "", fmt.Errorf("unsupported device %q", raw)
	}
}
