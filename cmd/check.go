// cmd/check.go

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/hostops/csf-unblocker/pkg/action"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <host> <ip>",
		Short: "Show why an IP is blocked on a host",
		Long: `Runs the panel-specific diagnosis battery for the IP on the host (inventory id,
FQDN or address) and reports every layer that blocks it. Nothing is changed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingle(cmd, action.Request{HostID: args[0], IP: args[1]})
		},
	}
}

func newUnblockCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "unblock <host> <ip>",
		Short: "Check an IP and remove its CSF and BFM blocks",
		Long: `Runs the diagnosis battery, then removes the CSF deny entry (adding a temporary
allow) and the DirectAdmin BFM blacklist entry where they were found.
Mail and ModSecurity findings are reported but never changed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSingle(cmd, action.Request{HostID: args[0], IP: args[1], Unblock: true, DryRun: dryRun})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the planned operations without running them")
	return cmd
}

func runSingle(cmd *cobra.Command, req action.Request) error {
	a, err := loadApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	req.Operator = operator
	res := a.action(a.settings.Report.Dir).Run(cmd.Context(), req)
	printResult(res)

	if !res.Success {
		return errCheckFailed
	}
	return nil
}
