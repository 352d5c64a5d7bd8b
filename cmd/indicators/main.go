package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/a-dev-mobile/t-indicators/internal/config"
	"github.com/a-dev-mobile/t-indicators/internal/logger"
	"github.com/a-dev-mobile/t-indicators/internal/service"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] config: %v", err)
	}
	logger.Init("indicators", cfg.Log.Level)

	svc, err := service.New(cfg)
	if err != nil {
		log.Fatalf("[main] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[main] fatal: %v", err)
	}
}
