package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Stanislav-Kankin/idle-company-game/internal/game"
)

// provisionTimeout bounds the one-shot provisioning run.
const provisionTimeout = 60 * time.Second

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision game infrastructure and exit",
	Long: `Provision seeds everything the game server depends on: the
Postgres schema, the NATS JetStream event stream and Redis connectivity.

The command runs once, prints a JSON result to stdout, and exits 0 on
success or non-zero on failure.`,
	RunE: runProvision,
}

func runProvision(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), provisionTimeout)
	defer cancel()
	defer app.Close()

	slog.Info("starting provisioning")

	result := app.game.Provision(ctx)
	printProvisionResult(result)

	if result.Status == game.StatusError {
		return fmt.Errorf("provisioning completed with errors")
	}

	slog.Info("provisioning completed successfully")
	return nil
}

func printProvisionResult(result *game.ProvisionResult) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		// Fallback to plain text if JSON encoding somehow fails.
		fmt.Fprintf(os.Stdout, `{"status":%q}`+"\n", result.Status)
	}
}
