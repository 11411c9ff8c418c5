package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mukisa/paybot/core/bootstrap"
	"github.com/mukisa/paybot/core/config"
	"github.com/mukisa/paybot/core/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("paybot: %v", err)
	}
}

func run() error {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	log.Printf("loading config: %s", cfgPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	app, err := bootstrap.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := logger.Shutdown(); err != nil {
			log.Printf("logger shutdown error: %v", err)
		}
	}()
	defer app.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return app.Run(ctx)
}
