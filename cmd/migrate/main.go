// Package main applies the settlement schema to the configured
// database. Run it once before the first server start and after any
// model change.
package main

import (
	"log"

	"malipo/internal/config"
	"malipo/internal/repositories"
)

func main() {
	config.LoadEnv()

	if err := repositories.InitDB(); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("Schema migrated")
}
