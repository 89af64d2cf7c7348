package config_test

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/krisbrooking/Rowbot-sub000/pkg/config"
)

// ExampleNewDefaultConfig demonstrates the engine defaults.
func ExampleNewDefaultConfig() {
	cfg := config.NewDefaultConfig()

	fmt.Printf("Batch Size: %d\n", cfg.Pipeline.BatchSize)
	fmt.Printf("Queue Capacity: %d\n", cfg.Pipeline.ChannelBoundedCapacity)
	fmt.Printf("Max Exceptions: %d\n", cfg.Pipeline.MaxExceptions)

	// Output:
	// Batch Size: 1000
	// Queue Capacity: 1
	// Max Exceptions: 3
}

// ExampleConfig_Validate shows how to validate a configuration
// before using it.
func ExampleConfig_Validate() {
	cfg := config.NewDefaultConfig()
	cfg.Pipeline.WorkerCount = 4
	cfg.Connections["warehouse"] = config.ConnectionConfig{
		Driver: config.DriverPostgres,
		DSN:    "postgres://localhost:5432/dw",
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	fmt.Println("Configuration is valid!")

	cfg.Connections["staging"] = config.ConnectionConfig{Driver: config.DriverMySQL}
	fmt.Println(cfg.Validate())

	// Output:
	// Configuration is valid!
	// connections.staging: dsn is required for driver mysql
}

// ExampleLoad demonstrates loading configuration from a YAML file
// with environment variable substitution.
func ExampleLoad() {
	dir, err := os.MkdirTemp("", "rowbot-config")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "rowbot.yaml")
	content := `
pipeline:
  batch_size: 250
connections:
  warehouse:
    driver: sqlite
    dsn: file:${ROWBOT_EXAMPLE_DB}
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		log.Fatal(err)
	}
	os.Setenv("ROWBOT_EXAMPLE_DB", "dw.db")
	defer os.Unsetenv("ROWBOT_EXAMPLE_DB")

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Batch Size: %d\n", cfg.Pipeline.BatchSize)
	fmt.Printf("Workers: %d\n", cfg.Pipeline.WorkerCount)
	fmt.Printf("DSN: %s\n", cfg.Connections["warehouse"].DSN)

	// Output:
	// Batch Size: 250
	// Workers: 1
	// DSN: file:dw.db
}
