// Command migrate applies the tontine and reputation schema via goose.
//
// Usage:
//
//	go run ./cmd/migrate up                  # Apply all pending migrations
//	go run ./cmd/migrate down                # Roll back the last migration
//	go run ./cmd/migrate status              # Show migration status
//	go run ./cmd/migrate -dir db/sql version # Use another migrations directory
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

func main() {
	dir := flag.String("dir", "migrations", "directory holding the goose SQL files")
	timeout := flag.Duration("timeout", 5*time.Minute, "give up after this long")
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintln(out, "Usage: migrate [-dir path] [-timeout d] <command> [args]")
		fmt.Fprintln(out, "Commands: up, down, status, version, redo, reset, up-to <version>, down-to <version>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	_ = godotenv.Load()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("Failed to select dialect: %v", err)
	}

	command, args := flag.Arg(0), flag.Args()[1:]
	if err := goose.RunContext(ctx, command, db, *dir, args...); err != nil {
		log.Fatalf("Migration %s failed: %v", command, err)
	}
}
