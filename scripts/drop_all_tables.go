package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	// Read environment to determine table prefix
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev" // Default to dev
	}

	prefix := os.Getenv("TABLE_PREFIX")
	if prefix == "" {
		switch env {
		case "prod":
			prefix = "prod_"
		case "test":
			prefix = "test_"
		default:
			prefix = "dev_"
		}
	}

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = db.Close() }() // Error ignored: script exiting

	// Relationships reference blocks, so they go first.
	dropSQL := fmt.Sprintf(`
		DROP TABLE IF EXISTS %srelationships CASCADE;
		DROP TABLE IF EXISTS %sblocks CASCADE;
	`, prefix, prefix)

	if _, err := db.Exec(dropSQL); err != nil {
		log.Fatalf("Failed to drop tables: %v", err)
	}

	fmt.Printf("All tables dropped successfully (prefix: %s)\n", prefix)
}
