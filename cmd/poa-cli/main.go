// Command poa-cli bundles offline tooling for the remediation agent:
// headless runs, calendar generation, report inspection, and artifact
// validation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "poa-cli",
		Short:   "Payment operations remediation agent tooling",
		Version: Version,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(calendarCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(sloCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(memoryCmd())
	rootCmd.AddCommand(approvalsCmd())
	rootCmd.AddCommand(approveCmd())
	rootCmd.AddCommand(rejectCmd())
	rootCmd.AddCommand(cycleCmd())
	rootCmd.AddCommand(injectCmd())
	rootCmd.AddCommand(interactiveCmd())
	rootCmd.AddCommand(scenariosCmd())
	return rootCmd
}
