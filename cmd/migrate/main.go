// Command migrate applies the embedded goose migrations to DATABASE_URL.
//
//	migrate up | down | status | version | redo | up-to N | down-to N
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/mbd888/sentinel/internal/logging"
	"github.com/mbd888/sentinel/migrations"
)

const connectTimeout = 10 * time.Second

func main() {
	if len(os.Args) < 2 || !slices.Contains(migrations.Commands, os.Args[1]) {
		fmt.Fprintf(os.Stderr, "usage: migrate <command> [version]\ncommands: %v\n", migrations.Commands)
		os.Exit(2)
	}
	command, args := os.Args[1], os.Args[2:]

	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"), "text")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	err = db.PingContext(ctx)
	cancel()
	if err != nil {
		logger.Error("failed to reach database", "error", err)
		os.Exit(1)
	}

	start := time.Now()
	if err := migrations.Run(context.Background(), db, command, args...); err != nil {
		logger.Error("migration failed", "command", command, "error", err)
		os.Exit(1)
	}
	logger.Info("migration finished", "command", command, "duration", time.Since(start).Round(time.Millisecond))
}
