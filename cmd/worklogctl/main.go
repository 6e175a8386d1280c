// Command worklogctl administers the worklog credential store: key
// rotation, connection inspection and forced disconnects. It opens the same
// database and key ring the server uses and reads the same WORKLOG_*
// configuration.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "worklogctl",
		Short:         "Administer worklog integration credentials",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(rekeyCmd())
	rootCmd.AddCommand(credentialsCmd())
	rootCmd.AddCommand(disconnectCmd())
	rootCmd.AddCommand(auditCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}
