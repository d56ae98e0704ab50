// Command migrate applies or rolls back the ticketing schema.
//
//	migrate up        apply every migration, demo events included
//	migrate schema    apply schema migrations only
//	migrate down      roll everything back
//	migrate to N      move to version N
//	migrate version   print the applied version
package main

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"

	"eventtix/internal/config"
	"eventtix/internal/database/migrations"
	"eventtix/internal/logger"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: migrate up|schema|down|version|to <version>")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logger.New(logger.Options{Level: logger.ParseLevel(cfg.LogLevel)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
	}
	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to database: %v", err))
	}

	opts := migrations.DefaultOptions()
	opts.SeedData = os.Args[1] == "up"
	runner := migrations.NewRunner(bun.NewDB(sqldb, pgdialect.New()), opts, log)
	defer runner.Close()

	switch os.Args[1] {
	case "up", "schema":
		err = runner.RunMigrations()
	case "down":
		err = runner.MigrateDown()
	case "to":
		if len(os.Args) < 3 {
			usage()
		}
		version, perr := strconv.ParseUint(os.Args[2], 10, 32)
		if perr != nil {
			log.Fatal("MIGRATE", fmt.Sprintf("Invalid version %q", os.Args[2]))
		}
		err = runner.MigrateTo(uint(version))
	case "version":
		version, dirty, verr := runner.Version()
		if verr != nil {
			log.Fatal("MIGRATE", verr.Error())
		}
		fmt.Printf("version %d (dirty: %t)\n", version, dirty)
		return
	default:
		usage()
	}
	if err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
	log.Info("MIGRATE", "✅ Done.")
}
