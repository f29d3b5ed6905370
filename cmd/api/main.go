package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "wisun2web/internal/adapter/actor"
	"wisun2web/internal/config"
	"wisun2web/internal/core/actor"
	"wisun2web/internal/server"
	"wisun2web/internal/util/actorutil"
	"wisun2web/pkg/skadapter"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/carlmjohnson/versioninfo"
	"github.com/jacobsa/go-serial/serial"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	slog.Info("wisun2web", "version", versioninfo.Short())

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	// meter data source: real B-route link or the mock
	source, err := meterSource(cfg)
	if err != nil {
		logger.Fatal("could not open meter data source", zap.Error(err))
	}

	// shared by the poller (publisher), MQTT actor and WebSocket feed
	es := &eventstream.EventStream{}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, es, func() *adactor.MeterActor {
			return adactor.NewMeterActor(source, logger)
		}, mqttActorProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid, es)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => WISUN2WEB_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("WISUN2WEB_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("wisun2web")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check bounds, credentials and MQTT topic
	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func meterSource(cfg *config.Config) (skadapter.MeterDataSource, error) {

	skLogger := logrus.New()
	skLogger.SetLevel(logrusLevel(cfg.LogLevel))

	if cfg.Mock {
		return skadapter.NewMockMeterSource(skLogger), nil
	}

	port, err := serial.Open(serial.OpenOptions{
		PortName:        cfg.Serial.Device,
		BaudRate:        uint(cfg.Serial.BaudRate),
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Serial.Device, err)
	}

	transport := skadapter.NewTransport(port, skLogger)
	return skadapter.NewBRouteClient(transport, cfg.BRoute.Id, cfg.BRoute.Password, cfg.BRoute.CacheFile, skLogger), nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func logrusLevel(level zapcore.Level) logrus.Level {
	switch level {
	case zap.DebugLevel:
		return logrus.DebugLevel
	case zap.InfoLevel:
		return logrus.InfoLevel
	case zap.WarnLevel:
		return logrus.WarnLevel
	case zap.ErrorLevel:
		return logrus.ErrorLevel
	case zap.FatalLevel:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("serial.baud_rate", 115200)
	viper.SetDefault("broute.cache_file", "wisun2web_pan.json")
	viper.SetDefault("poll.fast_interval_seconds", 5)
	viper.SetDefault("poll.slow_interval_minutes", 30)
	viper.SetDefault("poll.degraded_threshold", 3)
	viper.SetDefault("poll.disconnect_threshold", 5)
	viper.SetDefault("poll.reconnect_backoff_seconds", 5)
	viper.SetDefault("poll.reconnect_backoff_max_seconds", 300)
	viper.SetDefault("mqtt.enable", false)
	viper.SetDefault("mqtt.base_topic", "wisun2web")
	viper.SetDefault("mock", false)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.BRoute.Id = "*redacted*"
	cfg.BRoute.Password = "*redacted*"
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
