package cmd

import (
	"vlem/pkg/api"

	"github.com/spf13/cobra"
)

var createCmd = &cobra.Command{
	Use:   "create [template]",
	Short: "Create a lab from a catalog template",
	Long: `Create a lab from a template. The lab is queued and built in the
background; follow it with "labctl logs <id> --follow".

Example:
  labctl create web-basic
  labctl create web-basic --name "SQLi practice" --description "week 3"`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		name, _ := flags.GetString("name")
		description, _ := flags.GetString("description")

		result, err := newClient().CreateLab(args[0], api.CreateLabRequest{
			Name:        name,
			Description: description,
		})
		if err != nil {
			printAPIError(cmd, err)
			return
		}

		cmd.Println(result.Message)
		cmd.Printf("Lab ID: %s\n", result.ID)
	},
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().StringP("name", "n", "", "Display name (default: template name)")
	createCmd.Flags().StringP("description", "d", "", "Description (default: \"Provisioning <template>...\")")
}
