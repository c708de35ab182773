// Package config loads the bot's configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fentensoft/maicai/internal/dispatcher"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds everything the bootstrap layer wires together.
type Config struct {
	// Cookie is the captured DDXQSESSID credential. Required.
	Cookie string `mapstructure:"cookie"`
	// Channel is "app" or "applet".
	Channel string `mapstructure:"channel"`
	// PayType is "alipay" or "wechat".
	PayType string `mapstructure:"pay_type"`
	// AddressKeyword selects the delivery address whose text contains
	// it; the last listed address is used otherwise.
	AddressKeyword string `mapstructure:"address_keyword"`
	// BarkKey enables push notifications when non-empty.
	BarkKey string `mapstructure:"bark_key"`
	// OrderWorkers is how many order workers race concurrently.
	OrderWorkers int    `mapstructure:"order_workers"`
	LogLevel     string `mapstructure:"log_level"`
	// Schedules gates the racing workers to time-of-day windows; empty
	// means run continuously.
	Schedules []ScheduleEntry `mapstructure:"schedules"`
}

// ScheduleEntry is one raw "HH:MM" start/stop pair from the file.
type ScheduleEntry struct {
	Start string `mapstructure:"start"`
	Stop  string `mapstructure:"stop"`
}

// Load reads the config file at path (or maicai.yaml in the working
// directory when empty) plus matching environment variables. A missing
// cookie is the one fatal error here.
func Load(path string) (Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("maicai")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("maicai")
	v.AutomaticEnv()

	v.SetDefault("channel", "app")
	v.SetDefault("pay_type", "alipay")
	v.SetDefault("order_workers", 2)
	v.SetDefault("log_level", "info")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if strings.TrimSpace(cfg.Cookie) == "" {
		return Config{}, fmt.Errorf("config: cookie is required")
	}
	if cfg.OrderWorkers < 1 {
		cfg.OrderWorkers = 2
	}
	return cfg, nil
}

// ParseSchedules converts the raw entries into dispatcher schedules,
// dropping malformed or zero-length ones with a warning rather than
// failing startup.
func (c Config) ParseSchedules(log *zap.Logger) []dispatcher.Schedule {
	out := make([]dispatcher.Schedule, 0, len(c.Schedules))
	for _, e := range c.Schedules {
		s, err := parseEntry(e)
		if err != nil {
			log.Warn("dropping invalid schedule entry",
				zap.String("start", e.Start),
				zap.String("stop", e.Stop),
				zap.Error(err))
			continue
		}
		out = append(out, s)
	}
	return out
}

func parseEntry(e ScheduleEntry) (dispatcher.Schedule, error) {
	sh, sm, err := parseClock(e.Start)
	if err != nil {
		return dispatcher.Schedule{}, err
	}
	eh, em, err := parseClock(e.Stop)
	if err != nil {
		return dispatcher.Schedule{}, err
	}
	s := dispatcher.Schedule{StartHour: sh, StartMinute: sm, StopHour: eh, StopMinute: em}
	if !s.Valid() {
		return dispatcher.Schedule{}, fmt.Errorf("zero-length window %s", s)
	}
	return s, nil
}

func parseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("bad minute in %q", s)
	}
	return hour, minute, nil
}
