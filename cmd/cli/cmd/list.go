package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List labs",
	Long: `List labs, newest first by default.

Example:
  labctl list --status FAILED
  labctl list --name sql --sort-by updated_at --order asc --limit 20`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		q := LabQuery{}
		q.Name, _ = flags.GetString("name")
		q.Status, _ = flags.GetString("status")
		q.SortBy, _ = flags.GetString("sort-by")
		q.SortOrder, _ = flags.GetString("order")
		q.Limit, _ = flags.GetInt("limit")
		q.Offset, _ = flags.GetInt("offset")

		result, err := newClient().ListLabs(q)
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		if len(result.Labs) == 0 {
			cmd.Println("No labs found.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTEMPLATE\tSTATUS\tCREATED")
		for _, lab := range result.Labs {
			created := relativeTime(lab.CreatedAt) + " ago"
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", lab.ID, lab.Name, lab.TemplateName, lab.Status, created)
		}
		w.Flush()

		if len(result.Labs) == result.Limit {
			cmd.Printf("\nShowing %d labs from offset %d; use --offset %d for more.\n",
				len(result.Labs), result.Offset, result.Offset+result.Limit)
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().String("name", "", "Filter by name (substring, case-insensitive)")
	listCmd.Flags().String("status", "", "Filter by status (QUEUED, PROCESSING, BUILDING, COMPLETED, FAILED)")
	listCmd.Flags().String("sort-by", "", "Sort column: created_at or updated_at")
	listCmd.Flags().String("order", "", "Sort order: asc or desc")
	listCmd.Flags().Int("limit", 0, "Maximum number of labs (server default 10, max 100)")
	listCmd.Flags().Int("offset", 0, "Number of labs to skip")
}
