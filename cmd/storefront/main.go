package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/storage/memory/v2"

	"storefront/internal/config"
	"storefront/internal/credentials"
	"storefront/internal/http/handlers"
	applog "storefront/internal/log"
	"storefront/internal/metrics"
	"storefront/internal/repos"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	// Optional file logging
	logFile := applog.Setup(cfg.LogFile)
	defer logFile.Close()

	db, err := repos.OpenDB(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if cfg.SeedDemo {
		if err := repos.SeedDemo(context.Background(), db, cfg.BcryptCost); err != nil {
			log.Fatal(err)
		}
	}

	codec := credentials.NewCodec(cfg.KeyPath)
	if err := codec.Init(); err != nil {
		log.Fatal(err)
	}
	log.Printf("[keys] RSA key pair ready at %s", cfg.KeyPath)

	store := memory.New(memory.Config{GCInterval: time.Minute})
	defer store.Close()

	deps := handlers.NewDeps(db, cfg, codec, store, metrics.New())
	app := handlers.NewApp(deps)

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Printf("[shutdown] draining connections")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("[shutdown] %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal(err)
	}
}
