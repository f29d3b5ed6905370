package util

import (
	"wisun2web/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Serial: config.SerialConfig{
			Device:   "/dev/null",
			BaudRate: 115200,
		},
		BRoute: config.BRouteConfig{
			Id:       "00000000000000000000000000000000",
			Password: "000000000000",
		},
		Poll: config.PollConfig{
			FastIntervalSeconds:     1,
			SlowIntervalMinutes:     1,
			DegradedThreshold:       3,
			DisconnectThreshold:     5,
			ReconnectBackoffSeconds: 1,
			ReconnectBackoffMaxSecs: 5,
		},
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "wisun2web",
		},
		Mock: true,
		Port: 8080,
	}
}
