package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bind-service/binding"
)

func main() {
	config := binding.Config{}

	// Redis configuration
	flag.StringVar(&config.RedisServerAddress, "redis-server", "127.0.0.1", "Redis server address")
	var redisPort uint
	flag.UintVar(&redisPort, "redis-port", 6379, "Redis server port")

	// Bridge configuration
	flag.StringVar(&config.MQTTBroker, "mqtt-broker", "tcp://127.0.0.1:1883", "MQTT broker URL")
	flag.StringVar(&config.MQTTTopicPrefix, "mqtt-prefix", "bind", "MQTT topic prefix for bridge traffic")
	flag.StringVar(&config.MQTTUsername, "mqtt-user", "", "MQTT username")
	flag.StringVar(&config.MQTTPassword, "mqtt-pass", "", "MQTT password")

	// Binding configuration
	flag.StringVar(&config.NameFilter, "name-filter", "", "Broadcast name substring filter, empty accepts all")
	flag.IntVar(&config.SuffixLength, "suffix-length", binding.DefaultSuffixLength, "Trailing identifier characters used for device matching")
	flag.Float64Var(&config.SwapPricePerKWh, "price-per-kwh", 0, "Swap price per kWh used for cost estimates")
	var matchWindow uint
	flag.UintVar(&matchWindow, "match-window", 20, "Device matching window in seconds")
	flag.IntVar(&config.LogLevel, "log", 3, "Log level (0=NONE, 1=ERROR, 2=WARN, 3=INFO, 4=DEBUG)")

	flag.Parse()

	config.RedisServerPort = uint16(redisPort)
	config.Timeouts = binding.DefaultTimeouts()
	config.Timeouts.MatchWindow = time.Duration(matchWindow) * time.Second

	logger := log.New(os.Stdout, "", log.LstdFlags)

	service, err := binding.NewService(config, os.Stdout)
	if err != nil {
		logger.Fatalf("Failed to create bind service: %v", err)
	}

	if err := service.Start(); err != nil {
		logger.Fatalf("Failed to start bind service: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	service.Stop()
}
