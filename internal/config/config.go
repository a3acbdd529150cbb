package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Media     MediaConfig     `mapstructure:"media"`
	Synthesis SynthesisConfig `mapstructure:"synthesis"`
	Segmenter SegmenterConfig `mapstructure:"segmenter"`
	Render    RenderConfig    `mapstructure:"render"`
	Combine   CombineConfig   `mapstructure:"combine"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Server    ServerConfig    `mapstructure:"server"`
}

type PathsConfig struct {
	ArtifactsDir string `mapstructure:"artifacts_dir"`
	WorkDir      string `mapstructure:"work_dir"`
	AvatarDir    string `mapstructure:"avatar_dir"`
}

type MediaConfig struct {
	FFmpegPath  string `mapstructure:"ffmpeg_path"`
	FFprobePath string `mapstructure:"ffprobe_path"`
	FrameRate   int    `mapstructure:"frame_rate"`
}

type SynthesisConfig struct {
	Providers      []string `mapstructure:"providers"`
	Voice          string   `mapstructure:"voice"`
	ExecPath       string   `mapstructure:"exec_path"`
	ExecConfigPath string   `mapstructure:"exec_config_path"`
	HTTPEndpoint   string   `mapstructure:"http_endpoint"`
	HTTPAPIKey     string   `mapstructure:"http_api_key"`
	TimeoutSec     int      `mapstructure:"timeout_sec"`
}

// SegmenterConfig carries the segmentation policy thresholds. The defaults
// were tuned against one specific renderer's speed characteristics; retune
// them when targeting a different renderer.
type SegmenterConfig struct {
	SinglePassCeiling  float64 `mapstructure:"single_pass_ceiling"`
	TwoSegmentCeiling  float64 `mapstructure:"two_segment_ceiling"`
	ThreeSegmentCeil   float64 `mapstructure:"three_segment_ceiling"`
	FourSegmentCeiling float64 `mapstructure:"four_segment_ceiling"`
	DefaultSegmentSec  float64 `mapstructure:"default_segment_sec"`
	MinSegmentSec      float64 `mapstructure:"min_segment_sec"`
}

type RenderConfig struct {
	BinaryPath     string `mapstructure:"binary_path"`
	CheckpointPath string `mapstructure:"checkpoint_path"`
	Workers        int    `mapstructure:"workers"`
	TimeoutSec     int    `mapstructure:"timeout_sec"`
	MinOutputBytes int64  `mapstructure:"min_output_bytes"`
}

type CombineConfig struct {
	ToleranceSec float64 `mapstructure:"tolerance_sec"`
	TimeoutSec   int     `mapstructure:"timeout_sec"`
}

type CacheConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	IndexDB  string `mapstructure:"index_db"`
	TTLHours int    `mapstructure:"ttl_hours"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	MaxTextBytes    int    `mapstructure:"max_text_bytes"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	Workers         int    `mapstructure:"workers"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
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
		LogLevel: "info",
		Paths: PathsConfig{
			ArtifactsDir: "artifacts",
			WorkDir:      "",
			AvatarDir:    "avatars",
		},
		Media: MediaConfig{
			FFmpegPath:  "ffmpeg",
			FFprobePath: "ffprobe",
			FrameRate:   25,
		},
		Synthesis: SynthesisConfig{
			Providers:      []string{ProviderExec},
			Voice:          "",
			ExecPath:       "",
			ExecConfigPath: "",
			HTTPEndpoint:   "",
			HTTPAPIKey:     "",
			TimeoutSec:     60,
		},
		Segmenter: SegmenterConfig{
			SinglePassCeiling:  12,
			TwoSegmentCeiling:  18,
			ThreeSegmentCeil:   24,
			FourSegmentCeiling: 30,
			DefaultSegmentSec:  6,
			MinSegmentSec:      2.5,
		},
		Render: RenderConfig{
			BinaryPath:     "",
			CheckpointPath: "",
			Workers:        6,
			TimeoutSec:     120,
			MinOutputBytes: 1000,
		},
		Combine: CombineConfig{
			ToleranceSec: 0.5,
			TimeoutSec:   60,
		},
		Cache: CacheConfig{
			Enabled:  true,
			IndexDB:  "artifacts/cache.db",
			TTLHours: 24,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			MaxTextBytes:    4096,
			RequestTimeout:  300,
			Workers:         2,
			ShutdownTimeout: 30,
		},
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
	fs.String("paths-artifacts-dir", defaults.Paths.ArtifactsDir, "Directory for finished video artifacts")
	fs.String("paths-work-dir", defaults.Paths.WorkDir, "Scratch directory for per-request working files (default: system temp)")
	fs.String("paths-avatar-dir", defaults.Paths.AvatarDir, "Directory holding avatar images")
	fs.String("media-ffmpeg-path", defaults.Media.FFmpegPath, "Path to ffmpeg executable")
	fs.String("media-ffprobe-path", defaults.Media.FFprobePath, "Path to ffprobe executable")
	fs.Int("media-frame-rate", defaults.Media.FrameRate, "Frame rate declared on produced clips")
	fs.StringSlice("synthesis-providers", defaults.Synthesis.Providers, "Ordered speech provider list (exec|http)")
	fs.String("synthesis-voice", defaults.Synthesis.Voice, "Default voice profile")
	fs.String("synthesis-exec-path", defaults.Synthesis.ExecPath, "Path to the TTS executable for the exec provider")
	fs.String("synthesis-exec-config-path", defaults.Synthesis.ExecConfigPath, "Config file passed to the TTS executable")
	fs.String("synthesis-http-endpoint", defaults.Synthesis.HTTPEndpoint, "Endpoint URL for the HTTP synthesis provider")
	fs.String("synthesis-http-api-key", defaults.Synthesis.HTTPAPIKey, "API key for the HTTP synthesis provider")
	fs.Int("synthesis-timeout-sec", defaults.Synthesis.TimeoutSec, "Per-provider synthesis timeout in seconds")
	fs.Float64("segmenter-single-pass-ceiling", defaults.Segmenter.SinglePassCeiling, "Track duration (s) at or below which no splitting happens")
	fs.Float64("segmenter-two-segment-ceiling", defaults.Segmenter.TwoSegmentCeiling, "Track duration (s) ceiling for a 2-segment plan")
	fs.Float64("segmenter-three-segment-ceiling", defaults.Segmenter.ThreeSegmentCeil, "Track duration (s) ceiling for a 3-segment plan")
	fs.Float64("segmenter-four-segment-ceiling", defaults.Segmenter.FourSegmentCeiling, "Track duration (s) ceiling for a 4-segment plan")
	fs.Float64("segmenter-default-segment-sec", defaults.Segmenter.DefaultSegmentSec, "Segment length (s) for tracks beyond all ceilings")
	fs.Float64("segmenter-min-segment-sec", defaults.Segmenter.MinSegmentSec, "Minimum allowed segment length (s)")
	fs.String("render-binary-path", defaults.Render.BinaryPath, "Path to the lip-sync renderer executable")
	fs.String("render-checkpoint-path", defaults.Render.CheckpointPath, "Model checkpoint passed to the renderer")
	fs.Int("render-workers", defaults.Render.Workers, "Max concurrent render jobs")
	fs.Int("render-timeout-sec", defaults.Render.TimeoutSec, "Per-job render timeout in seconds")
	fs.Int64("render-min-output-bytes", defaults.Render.MinOutputBytes, "Minimum byte size for a render output to count as valid")
	fs.Float64("combine-tolerance-sec", defaults.Combine.ToleranceSec, "Allowed drift (s) between combined and source durations")
	fs.Int("combine-timeout-sec", defaults.Combine.TimeoutSec, "Combine step timeout in seconds")
	fs.Bool("cache-enabled", defaults.Cache.Enabled, "Enable the content-addressed result cache")
	fs.String("cache-index-db", defaults.Cache.IndexDB, "Path to the cache index database")
	fs.Int("cache-ttl-hours", defaults.Cache.TTLHours, "Cache entry retention in hours")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("server-max-text-bytes", defaults.Server.MaxTextBytes, "Maximum request text size in bytes")
	fs.Int("server-request-timeout", defaults.Server.RequestTimeout, "Per-request pipeline deadline in seconds")
	fs.Int("server-workers", defaults.Server.Workers, "Max concurrent pipeline runs served")
	fs.Int("server-shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown drain period in seconds")
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

	v.SetEnvPrefix("AVATARCAST")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("synthesis.http_api_key", "AVATARCAST_SYNTHESIS_HTTP_API_KEY", "TTS_API_KEY"); err != nil {
		return Config{}, fmt.Errorf("bind api key env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("avatarcast")
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
	v.SetDefault("log_level", c.LogLevel)
	v.SetDefault("paths.artifacts_dir", c.Paths.ArtifactsDir)
	v.SetDefault("paths.work_dir", c.Paths.WorkDir)
	v.SetDefault("paths.avatar_dir", c.Paths.AvatarDir)
	v.SetDefault("media.ffmpeg_path", c.Media.FFmpegPath)
	v.SetDefault("media.ffprobe_path", c.Media.FFprobePath)
	v.SetDefault("media.frame_rate", c.Media.FrameRate)
	v.SetDefault("synthesis.providers", c.Synthesis.Providers)
	v.SetDefault("synthesis.voice", c.Synthesis.Voice)
	v.SetDefault("synthesis.exec_path", c.Synthesis.ExecPath)
	v.SetDefault("synthesis.exec_config_path", c.Synthesis.ExecConfigPath)
	v.SetDefault("synthesis.http_endpoint", c.Synthesis.HTTPEndpoint)
	v.SetDefault("synthesis.http_api_key", c.Synthesis.HTTPAPIKey)
	v.SetDefault("synthesis.timeout_sec", c.Synthesis.TimeoutSec)
	v.SetDefault("segmenter.single_pass_ceiling", c.Segmenter.SinglePassCeiling)
	v.SetDefault("segmenter.two_segment_ceiling", c.Segmenter.TwoSegmentCeiling)
	v.SetDefault("segmenter.three_segment_ceiling", c.Segmenter.ThreeSegmentCeil)
	v.SetDefault("segmenter.four_segment_ceiling", c.Segmenter.FourSegmentCeiling)
	v.SetDefault("segmenter.default_segment_sec", c.Segmenter.DefaultSegmentSec)
	v.SetDefault("segmenter.min_segment_sec", c.Segmenter.MinSegmentSec)
	v.SetDefault("render.binary_path", c.Render.BinaryPath)
	v.SetDefault("render.checkpoint_path", c.Render.CheckpointPath)
	v.SetDefault("render.workers", c.Render.Workers)
	v.SetDefault("render.timeout_sec", c.Render.TimeoutSec)
	v.SetDefault("render.min_output_bytes", c.Render.MinOutputBytes)
	v.SetDefault("combine.tolerance_sec", c.Combine.ToleranceSec)
	v.SetDefault("combine.timeout_sec", c.Combine.TimeoutSec)
	v.SetDefault("cache.enabled", c.Cache.Enabled)
	v.SetDefault("cache.index_db", c.Cache.IndexDB)
	v.SetDefault("cache.ttl_hours", c.Cache.TTLHours)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.max_text_bytes", c.Server.MaxTextBytes)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("log_level", "log-level")
	v.RegisterAlias("paths.artifacts_dir", "paths-artifacts-dir")
	v.RegisterAlias("paths.work_dir", "paths-work-dir")
	v.RegisterAlias("paths.avatar_dir", "paths-avatar-dir")
	v.RegisterAlias("media.ffmpeg_path", "media-ffmpeg-path")
	v.RegisterAlias("media.ffprobe_path", "media-ffprobe-path")
	v.RegisterAlias("media.frame_rate", "media-frame-rate")
	v.RegisterAlias("synthesis.providers", "synthesis-providers")
	v.RegisterAlias("synthesis.voice", "synthesis-voice")
	v.RegisterAlias("synthesis.exec_path", "synthesis-exec-path")
	v.RegisterAlias("synthesis.exec_config_path", "synthesis-exec-config-path")
	v.RegisterAlias("synthesis.http_endpoint", "synthesis-http-endpoint")
	v.RegisterAlias("synthesis.http_api_key", "synthesis-http-api-key")
	v.RegisterAlias("synthesis.timeout_sec", "synthesis-timeout-sec")
	v.RegisterAlias("segmenter.single_pass_ceiling", "segmenter-single-pass-ceiling")
	v.RegisterAlias("segmenter.two_segment_ceiling", "segmenter-two-segment-ceiling")
	v.RegisterAlias("segmenter.three_segment_ceiling", "segmenter-three-segment-ceiling")
	v.RegisterAlias("segmenter.four_segment_ceiling", "segmenter-four-segment-ceiling")
	v.RegisterAlias("segmenter.default_segment_sec", "segmenter-default-segment-sec")
	v.RegisterAlias("segmenter.min_segment_sec", "segmenter-min-segment-sec")
	v.RegisterAlias("render.binary_path", "render-binary-path")
	v.RegisterAlias("render.checkpoint_path", "render-checkpoint-path")
	v.RegisterAlias("render.workers", "render-workers")
	v.RegisterAlias("render.timeout_sec", "render-timeout-sec")
	v.RegisterAlias("render.min_output_bytes", "render-min-output-bytes")
	v.RegisterAlias("combine.tolerance_sec", "combine-tolerance-sec")
	v.RegisterAlias("combine.timeout_sec", "combine-timeout-sec")
	v.RegisterAlias("cache.enabled", "cache-enabled")
	v.RegisterAlias("cache.index_db", "cache-index-db")
	v.RegisterAlias("cache.ttl_hours", "cache-ttl-hours")
	v.RegisterAlias("server.listen_addr", "server-listen-addr")
	v.RegisterAlias("server.max_text_bytes", "server-max-text-bytes")
	v.RegisterAlias("server.request_timeout", "server-request-timeout")
	v.RegisterAlias("server.workers", "server-workers")
	v.RegisterAlias("server.shutdown_timeout", "server-shutdown-timeout")
}
