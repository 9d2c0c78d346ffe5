// Package cmd provides the CLI commands for infrapilot.
//
// Commands:
//   - serve:   HTTP API server (conversation, notifications, docs webhook)
//   - consume: provisioning result queue consumer
//   - migrate: apply database migrations and exit
//   - seed:    embed and upsert the intent and template catalog
//
// Signal handling and graceful shutdown are implemented for the
// long-running commands via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
)

// Version is the application version, overridable at build time via ldflags.
var Version = "0.1.0"

// Execute is the main entry point for the infrapilot CLI.
func Execute() error {
	// Initialize logger once at entry point
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "consume":
		return runConsume()
	case "migrate":
		return runMigrate()
	case "seed":
		return runSeed()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runVersion displays version information.
func runVersion() {
	fmt.Printf("infrapilot %s\n", Version)
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("infrapilot - conversational infrastructure request broker")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  infrapilot serve [addr]  Start HTTP API server (default: 127.0.0.1:8080)")
	fmt.Println("  infrapilot consume       Start provisioning result consumer")
	fmt.Println("  infrapilot migrate       Apply database migrations and exit")
	fmt.Println("  infrapilot seed          Seed the intent and template catalog")
	fmt.Println("  infrapilot --version     Show version information")
	fmt.Println("  infrapilot --help        Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY           Required: Gemini API key for embeddings and generation")
	fmt.Println("  INFRAPILOT_*             Optional: overrides for any config key")
	fmt.Println("  DEBUG                    Optional: enable debug logging")
}
