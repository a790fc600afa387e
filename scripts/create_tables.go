package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

// Bootstraps the gateway usage table out-of-band. The server's GORM
// AutoMigrate does the same thing at startup; this exists for deployments
// where the gateway's database role has no DDL rights.
func main() {
	fmt.Println("Creating TAS LLM Gateway database tables...")

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=tasuser password=taspassword dbname=tas_shared sslmode=disable"
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	err = db.Ping()
	if err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	fmt.Println("✅ Connected to database")

	fmt.Println("Creating gateway_usage_records table...")
	createUsageTable := `
	CREATE TABLE IF NOT EXISTS gateway_usage_records (
		id UUID PRIMARY KEY,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		resolved_backend_id VARCHAR(255) NOT NULL,
		tier VARCHAR(32) NOT NULL,
		task VARCHAR(64) NOT NULL,
		complexity VARCHAR(32) NOT NULL,
		total_tokens_est INTEGER DEFAULT 0,
		cost_est_usd DECIMAL(10,6) DEFAULT 0.000000,
		latency_ms BIGINT DEFAULT 0,
		status VARCHAR(64) NOT NULL,
		escalated BOOLEAN DEFAULT FALSE,
		escalation_reason VARCHAR(255),
		routing_meta JSONB,
		attempts JSONB
	)`

	_, err = db.Exec(createUsageTable)
	if err != nil {
		log.Fatalf("Failed to create gateway_usage_records table: %v", err)
	}
	fmt.Println("✅ Usage table created/verified")

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_gateway_usage_created_at ON gateway_usage_records(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_gateway_usage_backend ON gateway_usage_records(resolved_backend_id)`,
	}
	for _, ddl := range indexes {
		if _, err := db.Exec(ddl); err != nil {
			log.Printf("Warning: Failed to create index: %v", err)
		} else {
			fmt.Println("✅ Index created/verified")
		}
	}

	fmt.Println("Done.")
}
