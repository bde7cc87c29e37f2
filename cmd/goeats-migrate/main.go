// goeats-migrate applies the SQL files of one service schema in order,
// tracking applied files in schema_migrations.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"
)

var (
	dsn    = flag.String("dsn", os.Getenv("GOEATS_POSTGRES_DSN"), "Postgres DSN")
	dir    = flag.String("dir", "", "Migration directory (e.g. migrations/order)")
	dryRun = flag.Bool("dry-run", false, "Show what would be applied without making changes")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if *dsn == "" || *dir == "" {
		log.Fatal("both -dsn and -dir are required")
	}

	files, err := listMigrations(*dir)
	if err != nil {
		log.Fatalf("Failed to list migrations: %v", err)
	}
	if len(files) == 0 {
		log.Fatalf("No .sql files in %s", *dir)
	}

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name       TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		log.Fatalf("Failed to create schema_migrations: %v", err)
	}

	applied := 0
	for _, file := range files {
		name := filepath.Base(file)

		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE name = $1`, name).Scan(&n); err != nil {
			log.Fatalf("Failed to check %s: %v", name, err)
		}
		if n > 0 {
			continue
		}

		if *dryRun {
			log.Printf("Would apply: %s", name)
			applied++
			continue
		}

		script, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", name, err)
		}

		tx, err := db.Begin()
		if err != nil {
			log.Fatalf("Failed to begin transaction: %v", err)
		}
		if _, err := tx.Exec(string(script)); err != nil {
			_ = tx.Rollback()
			log.Fatalf("Failed to apply %s: %v", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback()
			log.Fatalf("Failed to record %s: %v", name, err)
		}
		if err := tx.Commit(); err != nil {
			log.Fatalf("Failed to commit %s: %v", name, err)
		}

		log.Printf("Applied: %s", name)
		applied++
	}

	if applied == 0 {
		fmt.Println("Nothing to apply, schema is up to date")
	} else if *dryRun {
		fmt.Printf("%d migration(s) pending\n", applied)
	} else {
		fmt.Printf("%d migration(s) applied\n", applied)
	}
}

func listMigrations(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
