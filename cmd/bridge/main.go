package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/berfenger/shadeauto2mqtt/internal/adapter/actor"
	"github.com/berfenger/shadeauto2mqtt/internal/config"
	"github.com/berfenger/shadeauto2mqtt/internal/core/actor"
	"github.com/berfenger/shadeauto2mqtt/internal/core/service"
	"github.com/berfenger/shadeauto2mqtt/internal/core/store"
	"github.com/berfenger/shadeauto2mqtt/internal/server"
	"github.com/berfenger/shadeauto2mqtt/internal/util/actorutil"
	"github.com/berfenger/shadeauto2mqtt/pkg/shadeauto"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
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

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	st := store.NewStore()
	normalizer := service.NewRangeBatteryNormalizer(cfg.BatteryConfig.LowThreshold)

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfShadesActor(*cfg, st, normalizer,
			hubClientProvider(logger), mqttActorProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid, st)
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

	// alias PORT => SHADEAUTO_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("SHADEAUTO_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("shadeauto")
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

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// hubs must parse even before the master spawns
	if _, err := cfg.HubList(shadeauto.DefaultPort); err != nil {
		return nil, err
	}

	// check bounds
	if cfg.PollConfig.IdleIntervalSeconds < 5 {
		return nil, errors.New("config param poll.idle_interval_seconds should be >= 5")
	}
	if cfg.PollConfig.BurstIntervalSeconds < 1 {
		return nil, errors.New("config param poll.burst_interval_seconds should be >= 1")
	}
	if cfg.PollConfig.BurstCycles < 1 {
		return nil, errors.New("config param poll.burst_cycles should be >= 1")
	}
	if cfg.PollConfig.DiscoveryIntervalSeconds < 30 {
		return nil, errors.New("config param poll.discovery_interval_seconds should be >= 30")
	}
	if cfg.BatteryConfig.LowThreshold < 0 || cfg.BatteryConfig.LowThreshold > 100 {
		return nil, errors.New("config param battery.low_threshold should be between 0 and 100")
	}
	if cfg.CommandConfig.VerifyEnabled && cfg.CommandConfig.VerifyDelaySeconds < 5 {
		return nil, errors.New("config param command.verify_delay_seconds should be >= 5")
	}

	return &cfg, nil
}

func hubClientProvider(logger *zap.Logger) actor.HubClientProvider {
	return func(host string, port uint) shadeauto.Client {
		return shadeauto.CreateHTTPClient(host, port, shadeauto.DefaultTimeout, logger)
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "shadeauto")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("poll.idle_interval_seconds", 30)
	viper.SetDefault("poll.burst_interval_seconds", 2)
	viper.SetDefault("poll.burst_cycles", 5)
	viper.SetDefault("poll.discovery_interval_seconds", 300)
	viper.SetDefault("battery.low_threshold", 20)
	viper.SetDefault("command.verify_enabled", true)
	viper.SetDefault("command.verify_delay_seconds", 20)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
