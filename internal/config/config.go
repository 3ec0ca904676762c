package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"safe-transcode/internal/encoding"
	"safe-transcode/internal/geometry"
	"safe-transcode/internal/job"
)

// EnvPrefix prefixes every environment override, e.g. SAFETX_MAX_HEIGHT.
const EnvPrefix = "SAFETX"

// Config holds all the settings for the worker.
type Config struct {
	WorkerID        string `mapstructure:"worker_id"`
	OrchestratorURL string `mapstructure:"orchestrator_url"`
	HeartbeatSec    int    `mapstructure:"heartbeat_seconds"`
	ListenAddr      string `mapstructure:"listen_addr"`
	LogLevel        string `mapstructure:"log_level"`
	LogPretty       bool   `mapstructure:"log_pretty"`

	EnableHWAccel     bool   `mapstructure:"enable_hw_accel"`
	FFmpegPath        string `mapstructure:"ffmpeg_path"`
	FFprobePath       string `mapstructure:"ffprobe_path"`
	Threads           int    `mapstructure:"threads"`
	MaxConcurrentJobs int    `mapstructure:"max_concurrent_jobs"`
	QueueSize         int    `mapstructure:"queue_size"`

	// Transcode policy.
	MaxHeight      int     `mapstructure:"max_height"`
	BitrateBps     int     `mapstructure:"bitrate_bps"`
	AudioBitrate   string  `mapstructure:"audio_bitrate"`
	AlignBlock     int     `mapstructure:"align_block"`
	AlignMode      string  `mapstructure:"align_mode"`
	ScaleRounding  string  `mapstructure:"scale_rounding"`
	MetadataPolicy string  `mapstructure:"metadata_policy"`
	AcceptRatio    float64 `mapstructure:"accept_ratio"`
}

func setDefaults(v *viper.Viper) {
	host, _ := os.Hostname()
	v.SetDefault("worker_id", host)
	v.SetDefault("orchestrator_url", "")
	v.SetDefault("heartbeat_seconds", 15)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)

	v.SetDefault("enable_hw_accel", true)
	v.SetDefault("ffmpeg_path", "ffmpeg")
	v.SetDefault("ffprobe_path", "ffprobe")
	v.SetDefault("threads", 0)
	v.SetDefault("max_concurrent_jobs", 1)
	v.SetDefault("queue_size", 64)

	v.SetDefault("max_height", geometry.DefaultMaxHeight)
	v.SetDefault("bitrate_bps", encoding.DefaultBitrate)
	v.SetDefault("audio_bitrate", "128k")
	v.SetDefault("align_block", geometry.DefaultBlock)
	v.SetDefault("align_mode", "floor")
	v.SetDefault("scale_rounding", "half_away")
	v.SetDefault("metadata_policy", "fail")
	v.SetDefault("accept_ratio", job.DefaultAcceptRatio)
}

// LoadConfig merges defaults, the YAML file at path, SAFETX_* environment
// variables and, when flags is non-nil, command line flags (highest wins).
// A missing config file is not an error.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// 1. Set Defaults
	setDefaults(v)

	// 2. Read from File
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	// 3. Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// 4. Flags
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no job could run with.
func (c *Config) Validate() error {
	var errs []error
	if c.MaxHeight <= 0 {
		errs = append(errs, fmt.Errorf("max_height must be positive, got %d", c.MaxHeight))
	}
	if c.BitrateBps <= 0 {
		errs = append(errs, fmt.Errorf("bitrate_bps must be positive, got %d", c.BitrateBps))
	}
	if c.AlignBlock <= 0 {
		errs = append(errs, fmt.Errorf("align_block must be positive, got %d", c.AlignBlock))
	}
	if c.AcceptRatio <= 0 || c.AcceptRatio > 1 {
		errs = append(errs, fmt.Errorf("accept_ratio must be in (0, 1], got %g", c.AcceptRatio))
	}
	if c.MaxConcurrentJobs <= 0 {
		errs = append(errs, fmt.Errorf("max_concurrent_jobs must be positive, got %d", c.MaxConcurrentJobs))
	}
	if _, err := geometry.ParseAlignMode(c.AlignMode); err != nil {
		errs = append(errs, err)
	}
	if _, err := geometry.ParseRounding(c.ScaleRounding); err != nil {
		errs = append(errs, err)
	}
	if _, err := job.ParseMetadataPolicy(c.MetadataPolicy); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Policy converts the transcode settings into a job policy. Call after
// Validate; unparsable names fall back to defaults.
func (c *Config) Policy() job.Policy {
	mode, _ := geometry.ParseAlignMode(c.AlignMode)
	rounding, _ := geometry.ParseRounding(c.ScaleRounding)
	meta, _ := job.ParseMetadataPolicy(c.MetadataPolicy)

	return job.Policy{
		MaxHeight:   c.MaxHeight,
		Bitrate:     c.BitrateBps,
		Alignment:   geometry.Alignment{Block: c.AlignBlock, Mode: mode},
		Rounding:    rounding,
		Metadata:    meta,
		AcceptRatio: c.AcceptRatio,
	}
}
