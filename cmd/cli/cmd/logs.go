package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// pollInterval is the wait between polls in follow mode.
var pollInterval = time.Second

var logsCmd = &cobra.Command{
	Use:   "logs [lab_id]",
	Short: "Show build output of a lab",
	Long: `Print the captured compose output of a lab. With --follow, keep polling
until the lab reaches COMPLETED or FAILED.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		labID := args[0]
		follow, _ := cmd.Flags().GetBool("follow")

		// Trap Ctrl+C to exit gracefully
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client := newClient()
		var lastID int64 = 0

		for {
			newLogs, err := client.GetLogs(labID, lastID)
			if err != nil {
				if IsNotFound(err) {
					cmd.Printf("Lab %s not found\n", labID)
					return
				}
				cmd.Printf("Error fetching logs: %v\n", err)
				if !follow || !sleep(ctx, 2*pollInterval) {
					return
				}
				continue
			}

			for _, entry := range newLogs {
				cmd.Printf("%s[%s]%s ", colorDim, entry.Stage, colorReset)
				cmd.Print(entry.Content)
				if len(entry.Content) > 0 && entry.Content[len(entry.Content)-1] != '\n' {
					cmd.Println()
				}

				if entry.ID > lastID {
					lastID = entry.ID
				}
			}

			// Got a page; fetch the next one right away.
			if len(newLogs) > 0 {
				continue
			}
			if !follow {
				return
			}

			// Caught up. Stop once the lab will not produce more output.
			lab, err := client.GetLab(labID)
			if err == nil && terminalStatus(lab.Status) {
				cmd.Printf("Lab %s is %s\n", lab.ID, colorizeStatus(lab.Status))
				return
			}
			if IsNotFound(err) {
				cmd.Printf("Lab %s was removed\n", labID)
				return
			}

			if !sleep(ctx, pollInterval) {
				return
			}
		}
	},
}

// sleep waits d and reports false when ctx is cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().BoolP("follow", "f", false, "Follow log output until the lab finishes")
}
