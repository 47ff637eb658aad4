package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tiger/payment-ops-agent/internal/report"
	"github.com/tiger/payment-ops-agent/internal/tooling/validation"
)

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Inspect exported run reports",
	}
	cmd.AddCommand(reportShowCmd())
	return cmd
}

func reportShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [path]",
		Short: "Render a run report summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			markdown, _ := cmd.Flags().GetBool("markdown")

			loaded, err := report.Load(args[0])
			if err != nil {
				return err
			}
			if markdown {
				fmt.Fprint(cmd.OutOrStdout(), report.RenderMarkdown(loaded))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.RenderText(loaded))
			return nil
		},
	}
	cmd.Flags().Bool("markdown", false, "render the Markdown summary instead of text")
	return cmd
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate report artifacts against the published schema",
	}
	cmd.AddCommand(validateReportCmd())
	cmd.AddCommand(validateFixturesCmd())
	return cmd
}

func validateReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [path]",
		Short: "Validate one exported run report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			if err := validation.ValidateReportFile(schema, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "report valid: %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().String("schema", validation.DefaultSchemaPath, "artifact schema path")
	return cmd
}

func validateFixturesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fixtures [root]",
		Short: "Validate the artifact fixture tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			summary, err := validation.ValidateFixtures(schema, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), validation.RenderSummary(summary))
			if !summary.Passed() {
				return fmt.Errorf("%d fixture(s) failed validation", summary.Failed)
			}
			return nil
		},
	}
	cmd.Flags().String("schema", validation.DefaultSchemaPath, "artifact schema path")
	return cmd
}
