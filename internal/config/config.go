package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	Serial   SerialConfig `mapstructure:"serial"`
	BRoute   BRouteConfig `mapstructure:"broute"`
	Poll     PollConfig   `mapstructure:"poll"`
	MQTT     MQTTConfig   `mapstructure:"mqtt"`

	Mock    bool `mapstructure:"mock"`
	Port    uint `mapstructure:"port"`
	HttpLog bool `mapstructure:"http_log"`
}

type SerialConfig struct {
	Device   string
	BaudRate uint `mapstructure:"baud_rate"`
}

type BRouteConfig struct {
	Id        string
	Password  string
	CacheFile string `mapstructure:"cache_file"`
}

type PollConfig struct {
	FastIntervalSeconds     uint `mapstructure:"fast_interval_seconds"`
	SlowIntervalMinutes     uint `mapstructure:"slow_interval_minutes"`
	DegradedThreshold       uint `mapstructure:"degraded_threshold"`
	DisconnectThreshold     uint `mapstructure:"disconnect_threshold"`
	ReconnectBackoffSeconds uint `mapstructure:"reconnect_backoff_seconds"`
	ReconnectBackoffMaxSecs uint `mapstructure:"reconnect_backoff_max_seconds"`
}

type MQTTConfig struct {
	Enable    bool
	Host      string
	Port      int
	Username  string
	Password  string
	BaseTopic string `mapstructure:"base_topic"`
}

// HistoryCapacity is the instant reading ring size: one hour of samples at
// the configured fast cadence.
func (c PollConfig) HistoryCapacity() int {
	if c.FastIntervalSeconds == 0 {
		return 1
	}
	return int(3600 / c.FastIntervalSeconds)
}

// Validate checks startup-fatal constraints. A config that passes here
// should never take the process down later.
func Validate(cfg *Config) error {
	if !cfg.Mock {
		if cfg.Serial.Device == "" {
			return errors.New("config param serial.device is required unless mock mode is enabled")
		}
		if len(cfg.BRoute.Id) != 32 {
			return errors.New("config param broute.id must be the 32-character ID issued by the utility")
		}
		if len(cfg.BRoute.Password) != 12 {
			return errors.New("config param broute.password must be the 12-character password issued by the utility")
		}
	}
	if cfg.Poll.FastIntervalSeconds < 1 {
		return errors.New("config param poll.fast_interval_seconds should be >= 1")
	}
	if cfg.Poll.SlowIntervalMinutes < 1 {
		return errors.New("config param poll.slow_interval_minutes should be >= 1")
	}
	if cfg.Poll.DegradedThreshold < 1 {
		return errors.New("config param poll.degraded_threshold should be >= 1")
	}
	if cfg.Poll.DisconnectThreshold <= cfg.Poll.DegradedThreshold {
		return errors.New("config param poll.disconnect_threshold must be > poll.degraded_threshold")
	}
	if cfg.Poll.ReconnectBackoffSeconds < 1 {
		return errors.New("config param poll.reconnect_backoff_seconds should be >= 1")
	}
	if cfg.Poll.ReconnectBackoffMaxSecs < cfg.Poll.ReconnectBackoffSeconds {
		return errors.New("config param poll.reconnect_backoff_max_seconds must be >= poll.reconnect_backoff_seconds")
	}
	if cfg.MQTT.Enable {
		if cfg.MQTT.Host == "" {
			return fmt.Errorf("config param mqtt.host is required when mqtt.enable is set")
		}
		baseTopic, err := CheckMQTTTopic(cfg.MQTT.BaseTopic)
		if err != nil {
			return err
		}
		cfg.MQTT.BaseTopic = baseTopic
	}
	return nil
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
