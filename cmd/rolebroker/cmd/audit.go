package cmd

import "github.com/spf13/cobra"

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit trail verification tools",
	Long:  `Commands for verifying audit trails saved from GET /api/auth/audit.`,
}

func init() {
	rootCmd.AddCommand(auditCmd)
}
