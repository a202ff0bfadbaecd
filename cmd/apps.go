package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/drblury/cloudmesh/internal/app"
	"github.com/drblury/cloudmesh/internal/registry"
	loggingpkg "github.com/drblury/cloudmesh/internal/runtime/logging"
)

func newAppsCmd(flags *globalFlags) *cobra.Command {
	var registryURLs []string
	cmd := &cobra.Command{
		Use:   "apps",
		Short: "List the applications registered with the registry servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(app.KindBase, flags)
			if err != nil {
				return err
			}
			if len(registryURLs) > 0 {
				conf.RegistryURLs = registryURLs
			}
			client, err := registry.NewClient(conf, loggingpkg.NewNopServiceLogger(), nil)
			if err != nil {
				return err
			}
			apps, err := client.Fetch(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch applications: %w", err)
			}
			writeApps(cmd.OutOrStdout(), apps)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&registryURLs, "registry", nil, "registry server URLs, overrides registry.urls")
	return cmd
}

func writeApps(w io.Writer, apps []registry.Application) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Application", "Instance", "Address", "Status", "Last Renewal"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, a := range apps {
		for _, inst := range a.Instances {
			table.Append([]string{
				a.Name,
				inst.ID,
				inst.Address(),
				string(inst.Status),
				renewal(inst.LastRenewal),
			})
		}
	}
	table.Render()
}

func renewal(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return strconv.FormatInt(int64(time.Since(t).Seconds()), 10) + "s ago"
}
