package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"escrow-backend/internal/config"

	_ "github.com/lib/pq"
)

// Connectivity and schema sanity check for operators. Connects with
// database/sql directly so it works before AutoMigrate has ever run.
func main() {
	fmt.Println("🔍 Verifying database connection and escrow schema...")

	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	if err := config.LoadConfig(configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if config.AppConfig == nil || config.AppConfig.Database.DSN == "" {
		log.Fatal("Database DSN is required")
	}

	db, err := sql.Open("postgres", config.AppConfig.Database.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	var dbName string
	if err := db.QueryRow("SELECT current_database()").Scan(&dbName); err != nil {
		log.Fatalf("Failed to get database name: %v", err)
	}
	fmt.Printf("📋 Connected to database: %s\n", dbName)

	tables := []string{
		"tasks",
		"escrows",
		"submissions",
		"disputes",
		"dead_letter_refunds",
		"token_rail_escrows",
	}

	missing := 0
	for _, table := range tables {
		var exists bool
		err := db.QueryRow(`
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)
		`, table).Scan(&exists)
		if err != nil {
			log.Fatalf("Failed to check table %s: %v", table, err)
		}
		if exists {
			var count int64
			if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
				log.Fatalf("Failed to count rows in %s: %v", table, err)
			}
			fmt.Printf("✅ %s: %d rows\n", table, count)
		} else {
			fmt.Printf("❌ %s: missing (run the server once to migrate)\n", table)
			missing++
		}
	}

	// locked escrows are what the sweeper watches; surface them for ops
	var locked sql.NullInt64
	err = db.QueryRow("SELECT COUNT(*) FROM escrows WHERE status = 'locked'").Scan(&locked)
	if err == nil && locked.Valid {
		fmt.Printf("📊 Locked escrows: %d\n", locked.Int64)
	}

	if missing > 0 {
		os.Exit(1)
	}
	fmt.Println("✅ Database is ready")
}
