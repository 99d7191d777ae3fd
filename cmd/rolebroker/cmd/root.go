package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "rolebroker",
	Short:   "RoleBroker assumes customer IAM roles and keeps the credentials server-side",
	Version: Version,
	Long: `A session credential broker. Browser clients exchange an IAM role ARN for an
opaque session identifier; the temporary AWS credentials never leave the server.`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
