// Package config loads client settings from defaults, an optional YAML
// file and WSSTREAM_ environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/risa-org/wsstream/stream"
	"github.com/risa-org/wsstream/transport"
	"github.com/risa-org/wsstream/transport/gorilla"
	"github.com/risa-org/wsstream/transport/tcp"
	"github.com/risa-org/wsstream/transport/websocket"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every environment override, e.g.
// WSSTREAM_CONNECT_URL=ws://localhost:8080 sets connect.url.
const EnvPrefix = "WSSTREAM_"

// Transport drivers.
const (
	DriverNhooyr  = "nhooyr"
	DriverGorilla = "gorilla"
	DriverTCP     = "tcp"
)

// Config is the full client configuration.
type Config struct {
	Connect ConnectConfig `koanf:"connect"`
	Stream  StreamConfig  `koanf:"stream"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// ConnectConfig selects the transport and where it dials.
type ConnectConfig struct {
	URL          string        `koanf:"url"`
	Driver       string        `koanf:"driver"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	CloseTimeout time.Duration `koanf:"close_timeout"`
	Subprotocols []string      `koanf:"subprotocols"`
	ReadLimit    int64         `koanf:"read_limit"` // bytes, 0 keeps the driver default
}

// StreamConfig sizes the inbound queue.
type StreamConfig struct {
	QueueCapacity int    `koanf:"queue_capacity"` // 0 is unbounded
	Overflow      string `koanf:"overflow"`       // "error" or "block"
}

type LogConfig struct {
	Level       string `koanf:"level"`
	Development bool   `koanf:"development"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Address string `koanf:"address"`
}

func defaults() map[string]any {
	return map[string]any{
		"connect": map[string]any{
			"driver":        DriverNhooyr,
			"dial_timeout":  "10s",
			"close_timeout": "5s",
		},
		"stream": map[string]any{
			"queue_capacity": 0,
			"overflow":       stream.OverflowError.String(),
		},
		"log": map[string]any{
			"level":       "info",
			"development": false,
		},
		"metrics": map[string]any{
			"enabled": false,
			"address": ":9090",
		},
	}
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	cfg, err := load(koanf.New("."))
	if err != nil {
		// defaults are static, failing here is a programming error
		panic(err)
	}
	return cfg
}

// Load reads configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment, then validates it.
// A path that does not exist is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("failed to access config file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// WSSTREAM_CONNECT_DIAL_TIMEOUT -> connect.dial_timeout
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.Replace(s, "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg, err := unmarshal(k)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func load(k *koanf.Koanf) (*Config, error) {
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, err
	}
	return unmarshal(k)
}

func unmarshal(k *koanf.Koanf) (*Config, error) {
	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	schemes, ok := driverSchemes[c.Connect.Driver]
	if !ok {
		errs = append(errs, fmt.Errorf("connect.driver: unknown driver %q", c.Connect.Driver))
	} else if c.Connect.URL != "" {
		if _, err := transport.ParseURL(c.Connect.URL, schemes...); err != nil {
			errs = append(errs, fmt.Errorf("connect.url: %w", err))
		}
	}
	if c.Connect.DialTimeout <= 0 {
		errs = append(errs, errors.New("connect.dial_timeout: must be positive"))
	}
	if c.Connect.CloseTimeout <= 0 {
		errs = append(errs, errors.New("connect.close_timeout: must be positive"))
	}
	if c.Connect.ReadLimit < 0 {
		errs = append(errs, errors.New("connect.read_limit: must not be negative"))
	}
	if slices.Contains(c.Connect.Subprotocols, "") {
		errs = append(errs, errors.New("connect.subprotocols: empty entry"))
	}

	if c.Stream.QueueCapacity < 0 {
		errs = append(errs, errors.New("stream.queue_capacity: must not be negative"))
	}
	if _, err := stream.ParseOverflowPolicy(c.Stream.Overflow); err != nil {
		errs = append(errs, fmt.Errorf("stream.overflow: %w", err))
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, errors.New("metrics.address: required when metrics are enabled"))
	}

	return errors.Join(errs...)
}

var driverSchemes = map[string][]string{
	DriverNhooyr:  {"ws", "wss"},
	DriverGorilla: {"ws", "wss"},
	DriverTCP:     {"tcp"},
}

// StreamOptions converts the stream section. Call it on a validated config.
func (c *Config) StreamOptions() stream.Config {
	policy, _ := stream.ParseOverflowPolicy(c.Stream.Overflow)
	return stream.Config{Capacity: c.Stream.QueueCapacity, Overflow: policy}
}

// Dialer builds the transport dialer the connect section describes.
func (c *Config) Dialer(logger *zap.Logger) (transport.Dialer, error) {
	cc := c.Connect
	if cc.URL == "" {
		return nil, errors.New("connect.url is required")
	}

	switch cc.Driver {
	case DriverNhooyr:
		return &websocket.Dialer{
			URL:          cc.URL,
			Subprotocols: cc.Subprotocols,
			ReadLimit:    cc.ReadLimit,
			Logger:       logger,
		}, nil
	case DriverGorilla:
		return &gorilla.Dialer{
			URL:              cc.URL,
			Subprotocols:     cc.Subprotocols,
			HandshakeTimeout: cc.DialTimeout,
			CloseTimeout:     cc.CloseTimeout,
			ReadLimit:        cc.ReadLimit,
			Logger:           logger,
		}, nil
	case DriverTCP:
		return &tcp.Dialer{
			URL:     cc.URL,
			Timeout: cc.DialTimeout,
			Options: tcp.Options{
				MaxFrameSize: int(cc.ReadLimit),
				CloseTimeout: cc.CloseTimeout,
				Logger:       logger,
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown driver %q", cc.Driver)
	}
}
