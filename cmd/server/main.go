package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/router-for-me/CreditLedger/internal/app"
	"github.com/router-for-me/CreditLedger/internal/config"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default $"+config.ConfigPathEnv+" or "+config.DefaultConfigPath+")")
	migrateOnly := flag.Bool("migrate", false, "run database migrations and exit")
	newKey := flag.Bool("new-internal-key", false, "print a new internal API key and its bcrypt hash, then exit")
	flag.Parse()

	if *newKey {
		key, err := app.GenerateInternalKey()
		if err != nil {
			log.Fatalf("generate internal key: %v", err)
		}
		fmt.Printf("key:  %s\nhash: %s\n", key.Key, key.Hash)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCfg := config.AppConfig{ConfigPath: *configPath}
	if *migrateOnly {
		if err := app.Migrate(ctx, appCfg); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		log.Info("migrations applied")
		return
	}

	if err := app.RunServer(ctx, appCfg); err != nil {
		log.Fatalf("server: %v", err)
	}
}
