// Command migrate bootstraps the Postgres schema for every Source configured
// in config.yaml: the import/current table pair per Source (§4.10) plus the
// shared Delete Registry table (§4.7). It is idempotent — safe to run again
// against an already-bootstrapped database.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"

	_ "github.com/lib/pq"

	"github.com/naturalis/percolator/internal/config"
	"github.com/naturalis/percolator/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	listOnly := flag.Bool("list", false, "list configured sources and their backing tables, then exit")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if *listOnly {
		for _, src := range cfg.Sources {
			fmt.Printf("  %-20s import=%-25s current=%-25s\n", src.Code, src.ImportTable(), src.CurrentTable())
		}
		fmt.Printf("Total: %d sources\n", len(cfg.Sources))
		return
	}

	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("ping: %v", err)
	}
	log.Println("connected to database")

	st := store.New(db)
	ctx := context.Background()
	if err := st.BootstrapAll(ctx, cfg.Sources); err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	log.Printf("bootstrapped %d sources plus the delete registry", len(cfg.Sources))
}
