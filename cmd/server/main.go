package main

import (
	"os"

	"fieldsync/internal/app/server"
	"fieldsync/internal/config"
	"fieldsync/internal/utils/logger"
)

func main() {
	cfg := config.MustLoad()
	log := logger.New(cfg.Service.Env)

	app, err := server.NewApp(cfg, log)
	if err != nil {
		log.Error("app init failed", "error", err)
		os.Exit(1)
	}
	if err := app.Run(); err != nil {
		log.Error("app stopped with error", "error", err)
		os.Exit(1)
	}
}
