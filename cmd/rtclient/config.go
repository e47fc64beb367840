package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/usercast/rtclient"
	"github.com/usercast/rtclient/internal/errd"
)

// config is the file form of the command line flags.
// Flags that were set explicitly take precedence.
type config struct {
	BaseURL        string        `yaml:"base_url"`
	PushURL        string        `yaml:"push_url"`
	Token          string        `yaml:"token"`
	LogLevel       string        `yaml:"log_level"`
	Timeout        time.Duration `yaml:"timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	ICEServers     []string      `yaml:"ice_servers"`
}

func loadConfig(path string) (_ *config, err error) {
	defer errd.Wrap(&err, "failed to load config %q", path)

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg config
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml", ".json":
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
	// JSON is valid YAML.
	err = yaml.Unmarshal(b, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// options converts cfg into client options.
func (cfg *config) options(logger *zap.Logger) *rtclient.Options {
	opts := &rtclient.Options{
		BaseURL:        cfg.BaseURL,
		PushURL:        cfg.PushURL,
		Token:          cfg.Token,
		RequestTimeout: cfg.Timeout,
		ReconnectDelay: cfg.ReconnectDelay,
		Logger:         logger,
	}
	if cfg.ICEServers != nil {
		opts.ICEServers = []webrtc.ICEServer{}
		for _, u := range cfg.ICEServers {
			opts.ICEServers = append(opts.ICEServers, webrtc.ICEServer{URLs: []string{u}})
		}
	}
	return opts
}

func newLogger(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		err := lvl.UnmarshalText([]byte(level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
