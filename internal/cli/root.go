// Package cli implements the bulkmail command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/stiffinWanjohi/bulkmail/internal/config"
	"github.com/stiffinWanjohi/bulkmail/internal/logging"
)

// NewRootCmd creates the root command for the bulkmail CLI.
// It wires up logging and the serve, send, test-connection, migrate and
// version subcommands.
func NewRootCmd(ver string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bulkmail",
		Short:         "Personalized bulk email campaigns",
		Long:          "bulkmail: render one HTML template per recipient row and send it through a mail transport",
		Version:       ver,
		Example:       rootCmdExample,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			jsonLogs, _ := cmd.Flags().GetBool("json-logs")
			logging.Setup(level, jsonLogs || os.Getenv("NO_COLOR") != "", cmd.ErrOrStderr())
			return nil
		},
	}

	cmd.PersistentFlags().String("config", "", "path to a YAML config file (default $CONFIG_FILE)")
	cmd.PersistentFlags().String("log-level", os.Getenv("LOG_LEVEL"), "log level: debug, info, warn or error")
	cmd.PersistentFlags().Bool("json-logs", false, "write logs as JSON")
	cmd.AddCommand(newServeCmd(), newSendCmd(), newTestConnectionCmd(), newMigrateCmd(), newVersionCmd(ver))

	return cmd
}

const rootCmdExample = `  # Start the API server
  bulkmail serve

  # Send a campaign from a CSV file
  SENDER_APP_PASSWORD=... bulkmail send --csv people.csv --template welcome.html \
    --subject "Welcome" --sender-email me@example.com

  # Render the first row without sending
  bulkmail send --csv people.csv --template welcome.html --subject "Welcome" --dry-run

  # Check sender credentials
  bulkmail test-connection --sender-email me@example.com

  # Apply database migrations
  bulkmail migrate up`

// loadConfig reads the file named by --config, falling back to CONFIG_FILE.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.LoadConfig()
	}
	return config.Load(path)
}
