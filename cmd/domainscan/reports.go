package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func reportsCmd(s *settings, ui *ui) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Saved reports on the analysis service",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := s.api()
			if err != nil {
				return err
			}
			spin := newSpinner(" Listing reports...")
			reports, err := api.ListReports(cmd.Context())
			spin.Stop()
			if err != nil {
				return describeError(err)
			}
			if len(reports) == 0 {
				fmt.Printf("%s No saved reports\n", ui.info("[INFO]"))
				return nil
			}
			return renderReports(os.Stdout, reports)
		},
	}

	var (
		asJSON bool
		view   tableOptions
	)
	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a saved report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := s.api()
			if err != nil {
				return err
			}
			spin := newSpinner(" Fetching report...")
			rep, err := api.GetReport(cmd.Context(), args[0])
			spin.Stop()
			if err != nil {
				return describeError(err)
			}
			if !asJSON {
				fmt.Printf("%s %s (task %s, %d domains)\n", ui.title("Report"), rep.Name, rep.TaskID, len(rep.Domains))
			}
			return printResults(os.Stdout, rep.Results, view, asJSON, ui)
		},
	}
	get.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	bindTableFlags(get, &view)

	cmd.AddCommand(list, get)
	return cmd
}

func healthCmd(s *settings, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the analysis service answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := s.api()
			if err != nil {
				return err
			}
			spin := newSpinner(" Probing " + s.cfg.APIBaseURL + "...")
			err = api.Health(cmd.Context())
			spin.Stop()
			if err != nil {
				return describeError(err)
			}
			fmt.Printf("%s %s is up (api %s)\n", ui.ok("[OK]"), s.cfg.APIBaseURL, api.Version())
			return nil
		},
	}
}
