package cli

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stiffinWanjohi/bulkmail/internal/domain"
)

// senderFlags binds the sender identity flags. Each falls back to its
// environment variable so the app password can stay out of shell history.
type senderFlags struct {
	email       string
	name        string
	appPassword string
}

func (f *senderFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.email, "sender-email", "", "sender address (default $SENDER_EMAIL)")
	cmd.Flags().StringVar(&f.name, "sender-name", "", "sender display name (default $SENDER_NAME)")
	cmd.Flags().StringVar(&f.appPassword, "app-password", "", "sender app password (default $SENDER_APP_PASSWORD)")
}

func (f *senderFlags) identity() domain.SenderIdentity {
	return domain.SenderIdentity{
		Email:       firstNonEmpty(f.email, os.Getenv("SENDER_EMAIL")),
		Name:        firstNonEmpty(f.name, os.Getenv("SENDER_NAME")),
		AppPassword: firstNonEmpty(f.appPassword, os.Getenv("SENDER_APP_PASSWORD")),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
