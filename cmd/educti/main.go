package main

import (
	"flag"
	"os"

	"edu-cti/config"
	"edu-cti/core/appbootstrap"
	"edu-cti/core/ingest"
	"edu-cti/core/utils"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional, env vars apply on top)")
	flag.Parse()

	logger := utils.NewLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}

	adapters, err := ingest.FeedAdaptersFromConfig(cfg.Ingestion, cfg.Enrichment.FetchTimeout, logger.With("feeds"))
	if err != nil {
		logger.Errorf("feeds: %v", err)
		os.Exit(1)
	}

	if err := appbootstrap.Run(cfg, appbootstrap.Collaborators{Adapters: adapters}, logger); err != nil {
		logger.Errorf("run: %v", err)
		os.Exit(1)
	}
}
