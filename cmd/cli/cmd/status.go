package cmd

import (
	"fmt"
	"time"

	"vlem/pkg/api"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [lab_id]",
	Short: "Get status of a lab",
	Long:  `Retrieve detailed information for a lab, including its current state (QUEUED, PROCESSING, BUILDING, COMPLETED, FAILED), the failure reason and timestamps.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		lab, err := newClient().GetLab(args[0])
		if err != nil {
			if IsNotFound(err) {
				cmd.Printf("Lab %s not found\n", args[0])
				return
			}
			printAPIError(cmd, err)
			return
		}

		printStatus(cmd, *lab)
	},
}

func printStatus(cmd *cobra.Command, lab api.LabResponse) {
	// Header with status icon
	icon := statusIcon(lab.Status)
	cmd.Printf("%s %sLab Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, lab.ID)
	cmd.Printf("%sName:%s        %s\n", colorDim, colorReset, lab.Name)
	cmd.Printf("%sTemplate:%s    %s\n", colorDim, colorReset, lab.TemplateName)
	if lab.Description != "" {
		cmd.Printf("%sDescription:%s %s\n", colorDim, colorReset, lab.Description)
	}
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(lab.Status))

	// Failure detail (if present)
	if lab.ErrorKind != nil {
		cmd.Printf("%sError Kind:%s  %s%s%s\n", colorDim, colorReset, colorRed, *lab.ErrorKind, colorReset)
	}
	if lab.ErrorMessage != nil {
		cmd.Printf("%sError:%s       %s%s%s\n", colorDim, colorReset, colorRed, *lab.ErrorMessage, colorReset)
	}

	cmd.Printf("%sCreated:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(&lab.CreatedAt))
	if lab.Status == "COMPLETED" || lab.Status == "FAILED" {
		cmd.Printf("%sFinished:%s    %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(&lab.UpdatedAt),
			colorCyan, formatDuration(lab.UpdatedAt.Sub(lab.CreatedAt)), colorReset)
	} else {
		cmd.Printf("%sUpdated:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(&lab.UpdatedAt))
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case "COMPLETED":
		return colorGreen + "✓" + colorReset
	case "FAILED":
		return colorRed + "✗" + colorReset
	case "PROCESSING", "BUILDING":
		return colorYellow + "⏳" + colorReset
	case "QUEUED":
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func statusColor(status string) string {
	switch status {
	case "COMPLETED":
		return colorGreen
	case "FAILED":
		return colorRed
	case "PROCESSING", "BUILDING":
		return colorYellow
	case "QUEUED":
		return colorCyan
	default:
		return ""
	}
}

func colorizeStatus(status string) string {
	color := statusColor(status)
	if color == "" {
		return status
	}
	return statusIcon(status) + " " + color + status + colorReset
}

// terminalStatus reports whether a lab will not change again without a new job.
func terminalStatus(status string) bool {
	return status == "COMPLETED" || status == "FAILED"
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
