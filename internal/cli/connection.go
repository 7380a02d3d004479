package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/stiffinWanjohi/bulkmail/internal/app"
	"github.com/stiffinWanjohi/bulkmail/internal/domain"
	"github.com/stiffinWanjohi/bulkmail/internal/logging"
	"github.com/stiffinWanjohi/bulkmail/internal/transport"
)

// ErrConnectionFailed is returned when the test message could not be sent.
var ErrConnectionFailed = errors.New("connection test failed")

func newTestConnectionCmd() *cobra.Command {
	var sender senderFlags

	cmd := &cobra.Command{
		Use:   "test-connection",
		Short: "Send a test message from the sender to itself",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := app.ShutdownContext(cmd.Context())
			defer stop()

			tr, err := transport.New(ctx, cfg.Transport, nil)
			if err != nil {
				return err
			}

			out := newPrinter(cmd.OutOrStdout())
			identity := sender.identity()
			out.printf("\n")
			out.step(1, 1, "Sending test message to "+logging.RedactEmail(identity.Email)+" via "+tr.Name()+"... ")

			view := domain.ViewConnection(transport.TestConnection(ctx, tr, identity))
			if view.Status != (domain.ConnectionOK{}).Status() {
				out.failed()
				out.printf("\n  %s %s\n", out.fail("Error:"), view.Detail)
				return ErrConnectionFailed
			}
			out.ok()
			return nil
		},
	}
	sender.bind(cmd)

	return cmd
}
