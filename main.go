package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/talvikko/shopify-netvisor-sync/consumer"
	"github.com/talvikko/shopify-netvisor-sync/internal/state"
	"github.com/talvikko/shopify-netvisor-sync/processor"
	"github.com/talvikko/shopify-netvisor-sync/utils"
)

type Config struct {
	Sync SyncConfig `yaml:"sync"`
}

type SyncConfig struct {
	StateFile string                 `yaml:"state_file"`
	Overlap   string                 `yaml:"overlap"`
	Source    SourceConfig           `yaml:"source"`
	Mapping   processor.MapperConfig `yaml:"mapping"`
	Consumer  consumer.ConsumerConfig `yaml:"consumer"`
}

func main() {
	configFile := flag.String("config", "sync_config.yaml", "Path to sync configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	configBytes, err := os.ReadFile(*configFile)
	if err != nil {
		log.Fatalf("Error reading config file %s: %v", *configFile, err)
	}

	// ${VAR} references in the config file resolve from the environment
	// so credentials never have to live in the file itself
	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(configBytes))), &config); err != nil {
		log.Fatalf("Error parsing config: %v", err)
	}

	service, err := setupSyncService(config.Sync)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	if err := service.Run(ctx); err != nil {
		log.Fatalf("Sync run failed: %v", err)
	}
}

func setupSyncService(cfg SyncConfig) (*OrderSyncService, error) {
	stateFile := cfg.StateFile
	if stateFile == "" {
		stateFile = "state.json"
	}

	overlap := time.Duration(0)
	if cfg.Overlap != "" {
		parsed, err := utils.ParseDuration(cfg.Overlap)
		if err != nil {
			return nil, err
		}
		overlap = parsed
	}

	store := state.New(stateFile)

	source, err := createOrderSource(cfg.Source, store)
	if err != nil {
		return nil, err
	}
	mapper, err := createMapper(cfg.Mapping)
	if err != nil {
		return nil, err
	}
	sink, err := createConsumer(cfg.Consumer)
	if err != nil {
		return nil, err
	}

	return NewOrderSyncService(source, mapper, sink, store, overlap), nil
}
