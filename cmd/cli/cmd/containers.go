package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"vlem/pkg/api"

	"github.com/spf13/cobra"
)

var containersCmd = &cobra.Command{
	Use:   "containers [lab_id]",
	Short: "List the containers of a lab",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		containers, err := newClient().GetContainers(args[0])
		if err != nil {
			if IsNotFound(err) {
				cmd.Printf("Lab %s not found\n", args[0])
				return
			}
			printAPIError(cmd, err)
			return
		}

		if len(containers) == 0 {
			cmd.Println("No containers found. The lab may not be started.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSERVICE\tIMAGE\tSTATE\tPORTS")
		for _, c := range containers {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.Name, orDash(c.Service), c.Image, c.State, formatPorts(c.Ports))
		}
		w.Flush()
	},
}

// formatPorts renders bindings the way docker ps does: 8080->80/tcp.
func formatPorts(ports []api.PortBinding) string {
	if len(ports) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		if p.HostPort == 0 {
			parts = append(parts, fmt.Sprintf("%d/%s", p.ContainerPort, p.Protocol))
			continue
		}
		parts = append(parts, fmt.Sprintf("%d->%d/%s", p.HostPort, p.ContainerPort, p.Protocol))
	}
	return strings.Join(parts, ", ")
}

func init() {
	rootCmd.AddCommand(containersCmd)
}
