package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// fileConfig is the content of the file given to -config.
type fileConfig struct {
	// Strategy is the default of allocate -strategy.
	Strategy string `toml:"strategy"`
	// LogLevel is a zap level name.
	LogLevel string `toml:"log_level"`
	// Count is the default of allocate -n.
	Count int `toml:"count"`
}

func defaultConfig() *fileConfig {
	return &fileConfig{LogLevel: "info", Count: 1}
}

// loadConfig reads path over the defaults. An empty path returns the
// defaults.
func loadConfig(path string) (*fileConfig, error) {
	c := defaultConfig()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err = toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if c.Count < 1 {
		return nil, fmt.Errorf("count must be positive, was %d", c.Count)
	}
	return c, nil
}

// newLogger returns a console logger writing to w at the configured level.
func (c *fileConfig) newLogger(w io.Writer) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(w), level)
	return zap.New(core), nil
}
