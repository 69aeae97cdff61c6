package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/orca-network/orca-go-sdk/internal/agent"
	"github.com/orca-network/orca-go-sdk/internal/config"
	"github.com/orca-network/orca-go-sdk/internal/logger"
)

func main() {
	configFile := flag.String("config", "configs/agent.yaml", "Path to configuration file")
	flag.Parse()

	bootLog := logger.New("info", false)

	appConfig, err := config.LoadConfig(*configFile, bootLog)
	if err != nil {
		bootLog.Fatalf("Failed to load configuration: %v", err)
	}

	log := logger.New(appConfig.Logging.Level, appConfig.Logging.Format == "json")
	log.Infof("Starting %s v%s", appConfig.Agent.Name, appConfig.Agent.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orcaAgent, err := agent.New(ctx, appConfig, log)
	if err != nil {
		log.Fatalf("Failed to create agent: %v", err)
	}

	if err := orcaAgent.Start(); err != nil {
		log.Fatalf("Failed to start agent: %v", err)
	}

	<-ctx.Done()
	log.Info("Received shutdown signal")

	if err := orcaAgent.Stop(); err != nil {
		log.Errorf("Error stopping agent: %v", err)
	}
}
