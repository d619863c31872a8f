package relay

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/voxscribe/relay/pkg/configutil"
	"github.com/voxscribe/relay/pkg/errorsx"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Upstream UpstreamConfig `mapstructure:"upstream"`

	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	WSPath         string   `mapstructure:"ws_path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type UpstreamConfig struct {
	// APIKey may be empty: a missing key is a handled per-session
	// condition, not a startup failure.
	APIKey   string         `mapstructure:"api_key"`
	Model    string         `mapstructure:"model"`
	Language string         `mapstructure:"language"`
	Settings map[string]any `mapstructure:"settings"`

	// Resolved from Settings with defaults applied.
	EndpointingMS  int `mapstructure:"-"`
	UtteranceEndMS int `mapstructure:"-"`
}

type upstreamTuning struct {
	EndpointingMS  *int `mapstructure:"endpointing_ms"`
	UtteranceEndMS *int `mapstructure:"utterance_end_ms"`
}

// LoadConfig reads configuration from an optional file, with environment
// overrides for secrets. An empty path loads pure defaults.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.allow_any_origin", true)
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.model", "nova-2-medical")
	v.SetDefault("upstream.language", "en-US")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	_ = v.BindEnv("upstream.api_key", "DEEPGRAM_API_KEY")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errorsx.Wrap(fmt.Errorf("read config: %w", err), errorsx.ReasonConfigLoad)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("unmarshal config: %w", err), errorsx.ReasonConfigLoad)
	}

	var tuning upstreamTuning
	if err := configutil.DecodeSettings(cfg.Upstream.Settings, &tuning); err != nil {
		return Config{}, errorsx.Wrap(fmt.Errorf("decode upstream settings: %w", err), errorsx.ReasonConfigLoad)
	}
	cfg.Upstream.EndpointingMS = configutil.IntValue(tuning.EndpointingMS, 300)
	cfg.Upstream.UtteranceEndMS = configutil.IntValue(tuning.UtteranceEndMS, 1000)

	return cfg, nil
}
