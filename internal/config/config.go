package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Broker configures cmd/broker.
type Broker struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port"`
	Secret       string        `mapstructure:"secret"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	LogLevel     string        `mapstructure:"log_level"`
}

// Client configures cmd/voicecall.
type Client struct {
	BrokerURL       string        `mapstructure:"broker_url"`
	LogFile         string        `mapstructure:"log_file"`
	LogLevel        string        `mapstructure:"log_level"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	ReconnectDelay  time.Duration `mapstructure:"reconnect_delay"`
	AutoAnswerDelay time.Duration `mapstructure:"auto_answer_delay"`
	StatusHold      time.Duration `mapstructure:"status_hold"`
	FrameInterval   time.Duration `mapstructure:"frame_interval"`
	ICEServers      []string      `mapstructure:"ice_servers"`
	Device          Device        `mapstructure:"device"`
}

type Device struct {
	Kind       string  `mapstructure:"kind"`
	Frequency  float64 `mapstructure:"frequency"`
	Amplitude  float64 `mapstructure:"amplitude"`
	SampleRate int     `mapstructure:"sample_rate"`
	Allow      bool    `mapstructure:"allow"`
}

func BrokerFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("broker", pflag.ContinueOnError)
	fs.String("mode", "release", "gin mode: debug or release")
	fs.Int("port", 8080, "listen port")
	fs.String("log_level", "info", "log level")
	return fs
}

func ClientFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("voicecall", pflag.ContinueOnError)
	fs.String("broker_url", "ws://localhost:8080", "broker websocket URL")
	fs.String("log_file", "voicecall.log", "log file; the terminal belongs to the UI")
	fs.String("log_level", "info", "log level")
	fs.String("device.kind", "tone", "capture device: tone, silence or none")
	fs.Bool("device.allow", true, "allow microphone capture")
	return fs
}

func LoadBroker(args []string) (*Broker, error) {
	v := viper.New()
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "voicecall")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("rate_limit", 10)
	v.SetDefault("rate_interval", "10s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("log_level", "info")

	if err := load(v, BrokerFlags(), args); err != nil {
		return nil, err
	}
	var cfg Broker
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("broker config")
	return &cfg, nil
}

func LoadClient(args []string) (*Client, error) {
	v := viper.New()
	v.SetDefault("broker_url", "ws://localhost:8080")
	v.SetDefault("log_file", "voicecall.log")
	v.SetDefault("log_level", "info")
	v.SetDefault("retry_delay", "300ms")
	v.SetDefault("reconnect_delay", "1s")
	v.SetDefault("auto_answer_delay", "2s")
	v.SetDefault("status_hold", "2s")
	v.SetDefault("frame_interval", "16ms")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"})
	v.SetDefault("device.kind", "tone")
	v.SetDefault("device.frequency", 440.0)
	v.SetDefault("device.amplitude", 0.3)
	v.SetDefault("device.sample_rate", 48000)
	v.SetDefault("device.allow", true)

	if err := load(v, ClientFlags(), args); err != nil {
		return nil, err
	}
	var cfg Client
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.BrokerURL == "" {
		return nil, errors.New("broker_url is required")
	}
	return &cfg, nil
}

// load reads config/config.<CONFIG_ENV>.yaml, then VOICECALL_* variables,
// then flags.
func load(v *viper.Viper, fs *pflag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	v.SetEnvPrefix("VOICECALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v.BindPFlags(fs)
}
