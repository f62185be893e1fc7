package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/prperemyshlev/credential-service/internal/config"
	"github.com/prperemyshlev/credential-service/internal/migration"
	"github.com/prperemyshlev/credential-service/pkg/database"
	"github.com/prperemyshlev/credential-service/pkg/observability"
	"go.uber.org/zap"
)

func main() {
	steps := flag.Int("steps", 0, "number of migrations to roll back with down; 0 rolls back all")
	forceVersion := flag.Int("version", -1, "version to force with the force command")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] up|down|version|force\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	logger, err := observability.InitLogger(observability.LogOptions{
		Env:   os.Getenv("ENV"),
		Level: os.Getenv("LOG_LEVEL"),
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	pgCfg, err := config.LoadPostgres(context.Background())
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	pg, err := database.NewPostgres(pgCfg.DSN())
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer func() { _ = pg.Close() }()

	runner, err := migration.NewRunner(pg.DB, logger)
	if err != nil {
		logger.Fatal("Failed to prepare migrations", zap.Error(err))
	}

	if err := run(runner, command, *steps, *forceVersion, logger); err != nil {
		logger.Fatal("Migration command failed", zap.String("command", command), zap.Error(err))
	}
}

func run(runner *migration.Runner, command string, steps, forceVersion int, logger *zap.Logger) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		if err := runner.Down(steps); err != nil {
			return err
		}
	case "force":
		if forceVersion < 0 {
			return fmt.Errorf("force requires -version")
		}
		if err := runner.Force(forceVersion); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	version, dirty, err := runner.Version()
	if err != nil {
		return err
	}
	logger.Info("Migration state", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}
