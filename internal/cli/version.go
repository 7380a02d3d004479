package cli

import (
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd(ver string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			newPrinter(cmd.OutOrStdout()).printf("bulkmail version %s (%s %s/%s)\n",
				ver, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
