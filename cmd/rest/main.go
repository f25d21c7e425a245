package main

import (
	"context"
	"log"

	"business-copilot-be/internal/bootstrap"
	"business-copilot-be/internal/config"
	"business-copilot-be/internal/server"
	"business-copilot-be/internal/tracer"
	"business-copilot-be/pkg/database"
)

func main() {
	shutdownTracer := tracer.InitTracer()
	defer shutdownTracer(context.Background())

	cfg := config.Load()

	gormDB, err := database.NewGormDBFromDSN(cfg.Database.Connection)
	if err != nil {
		log.Panicf("Unable to connect to GORM DB: %v", err)
	}

	container := bootstrap.NewContainer(gormDB, cfg)
	defer container.Logger.Sync()

	// Telemetry consumer runs for the process lifetime.
	if err := container.ConsumerService.Consume(context.Background()); err != nil {
		log.Printf("Background consumer error: %v", err)
	}

	srv := server.New(cfg, container)
	log.Fatal(srv.Run())
}
