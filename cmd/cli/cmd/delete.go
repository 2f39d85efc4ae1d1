package cmd

import (
	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete [lab_id]",
	Short: "Tear a lab down and remove it",
	Long:  `Queue a teardown: the worker stops the lab's containers, removes its files and deletes the record.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		result, err := newClient().DeleteLab(args[0])
		if err != nil {
			if IsNotFound(err) {
				cmd.Printf("Lab %s not found\n", args[0])
				return
			}
			printAPIError(cmd, err)
			return
		}
		cmd.Println(result.Message)
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
