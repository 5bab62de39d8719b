// cmd/history.go

package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hostops/csf-unblocker/pkg/config"
	"github.com/hostops/csf-unblocker/pkg/report"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [ip]",
		Short: "List recent firewall checks from the audit log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ip := ""
			if len(args) == 1 {
				ip = args[0]
			}

			settings, err := config.LoadSettings(settingsFile)
			if err != nil {
				return err
			}
			store, err := report.OpenStore(settings.Report.Database)
			if err != nil {
				return err
			}
			defer store.Close()

			rows, err := store.History(cmd.Context(), ip, limit)
			if err != nil {
				return err
			}
			printHistory(rows)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of rows")
	return cmd
}

func printHistory(rows []report.HistoryRow) {
	if len(rows) == 0 {
		fmt.Println("No checks recorded.")
		return
	}

	bold := color.New(color.Bold).SprintFunc()
	fmt.Println(bold(fmt.Sprintf("%-20s %-16s %-40s %-12s %-20s %s", "CHECKED", "HOST", "IP", "STATE", "SOURCES", "OPERATOR")))

	for _, row := range rows {
		state, paint := "clear", color.New(color.FgGreen)
		switch {
		case !row.Success:
			state, paint = "failed", color.New(color.FgRed)
		case row.Unblocked:
			state, paint = "unblocked", color.New(color.FgCyan)
		case row.Blocked:
			state, paint = "blocked", color.New(color.FgYellow)
		}

		sources := strings.Join(row.BlockSources, ",")
		if !row.Success {
			sources = row.ErrorClass
		}
		if sources == "" {
			sources = "-"
		}

		fmt.Printf("%-20s %-16s %-40s %s %-20s %s\n",
			row.CheckedAt.Local().Format("2006-01-02 15:04:05"),
			row.HostID, row.IP,
			paint.Sprintf("%-12s", state),
			sources, row.Operator)
	}
}
