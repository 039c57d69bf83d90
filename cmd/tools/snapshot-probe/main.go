// cmd/tools/snapshot-probe/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"activation-orchestrator/internal/activation/orchestrator"
	"activation-orchestrator/internal/common/backend"
	httpclient "activation-orchestrator/internal/common/http"
	"activation-orchestrator/internal/common/logger"
	"activation-orchestrator/internal/common/observability"
	"activation-orchestrator/internal/common/session"
	"activation-orchestrator/internal/common/validation"
	"activation-orchestrator/internal/models"
)

type probeOutput struct {
	Snapshot *models.SubscriptionSnapshot `json:"snapshot"`
	Step     models.ActivationStep        `json:"step"`
}

func main() {
	fetchCmd := flag.NewFlagSet("fetch", flag.ExitOnError)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)

	// Fetch command flags
	baseURL := fetchCmd.String("base-url", os.Getenv("BACKEND_BASE_URL"), "Backend base URL (e.g., https://api.example.com)")
	token := fetchCmd.String("token", os.Getenv("PROBE_TOKEN"), "Bearer token of the user to inspect")
	timeout := fetchCmd.Duration("timeout", 10*time.Second, "Request timeout")
	verbose := fetchCmd.Bool("v", false, "Log requests")

	// Validate command flags
	file := validateCmd.String("file", "", "Path to a JSON snapshot payload")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "fetch":
		fetchCmd.Parse(os.Args[2:])
		if *baseURL == "" || *token == "" {
			fmt.Println("Error: base-url and token are required for fetch.")
			fetchCmd.Usage()
			os.Exit(1)
		}
		if err := fetch(*baseURL, *token, *timeout, *verbose); err != nil {
			fmt.Printf("Error fetching snapshot: %v\n", err)
			os.Exit(1)
		}

	case "validate":
		validateCmd.Parse(os.Args[2:])
		if *file == "" {
			fmt.Println("Error: file is required for validate.")
			validateCmd.Usage()
			os.Exit(1)
		}
		if err := validateFile(*file); err != nil {
			fmt.Printf("Snapshot validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Snapshot payload is valid.")

	case "help":
		fallthrough
	default:
		help()
	}
}

func fetch(baseURL, token string, timeout time.Duration, verbose bool) error {
	log := logger.NewNoOpLogger()
	if verbose {
		log = logger.NewStructured("debug", "console")
	}

	h := httpclient.NewClient(baseURL, timeout, session.StaticCredentials(token), observability.NewNop())
	client := backend.NewClient(h, log)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	snap, err := client.FetchSnapshot(ctx)
	if err != nil {
		return err
	}
	return printJSON(probeOutput{Snapshot: snap, Step: orchestrator.DeriveStep(*snap)})
}

func validateFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var payload interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	// accept both the enveloped response and the bare payload
	if m, ok := payload.(map[string]interface{}); ok {
		if inner, ok := m["data"]; ok && inner != nil {
			payload = inner
		}
	}
	return validation.ValidateSnapshotPayload(payload)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func help() {
	fmt.Println("Usage: snapshot-probe <command> [flags]")
	fmt.Println("Commands:")
	fmt.Println("  fetch     Fetch a user's subscription snapshot and print its activation step")
	fmt.Println("  validate  Check a saved snapshot payload against the snapshot schema")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nFetch Flags:")
	fmt.Println("  -base-url string   Backend base URL (default $BACKEND_BASE_URL)")
	fmt.Println("  -token string      Bearer token (default $PROBE_TOKEN)")
	fmt.Println("  -timeout duration  Request timeout (default 10s)")
	fmt.Println("  -v                 Log requests")
	fmt.Println("\nValidate Flags:")
	fmt.Println("  -file string       Path to a JSON snapshot payload")
}
