package cmd

import (
	"fmt"
	"time"

	"docplane/pkg/api"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// pollInterval is how often --watch asks the API for progress.
var pollInterval = 2 * time.Second

var statusCmd = &cobra.Command{
	Use:   "status [process_id]",
	Short: "Get status of a process",
	Long:  `Retrieve status information for a process, including its state (PENDING, IN_PROGRESS, COMPLETED, FAILED, STOPPED), step progress and timestamps.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		processID := args[0]
		client := NewProcessClient(viper.GetString("url"))

		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			watchProcess(cmd, client, processID)
			return
		}

		process, err := client.GetProcess(processID)
		if err != nil {
			printAPIError(cmd, "Status", err)
			return
		}
		printStatus(cmd, *process)

		if steps, _ := cmd.Flags().GetBool("steps"); steps {
			list, err := client.ListSteps(processID)
			if err != nil {
				printAPIError(cmd, "Steps", err)
				return
			}
			printSteps(cmd, list)
		}
	},
}

// watchProcess polls a process and renders step progress until it reaches
// a terminal status.
func watchProcess(cmd *cobra.Command, client *ProcessClient, processID string) {
	var bar *progressbar.ProgressBar

	for {
		process, err := client.GetProcess(processID)
		if err != nil {
			printAPIError(cmd, "Status", err)
			return
		}

		if bar == nil && process.Steps.Total > 0 {
			bar = progressbar.NewOptions64(
				int64(process.Steps.Total),
				progressbar.OptionSetDescription("steps"),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionThrottle(500*time.Millisecond),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionEnableColorCodes(false),
			)
		}
		if bar != nil {
			_ = bar.Set64(int64(process.Steps.Done()))
		}

		if isTerminal(process.Status) {
			if bar != nil {
				_ = bar.Finish()
				fmt.Fprintln(cmd.ErrOrStderr())
			}
			printStatus(cmd, *process)
			return
		}
		time.Sleep(pollInterval)
	}
}

func isTerminal(status string) bool {
	switch status {
	case "COMPLETED", "FAILED", "STOPPED":
		return true
	}
	return false
}

func printStatus(cmd *cobra.Command, process api.ProcessResponse) {
	// Header with status icon
	icon := statusIcon(process.Status)
	cmd.Printf("%s %sProcess Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, process.ID)
	if process.Name != "" {
		cmd.Printf("%sName:%s        %s\n", colorDim, colorReset, process.Name)
	}
	cmd.Printf("%sType:%s        %s\n", colorDim, colorReset, process.Type)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(process.Status))

	s := process.Steps
	cmd.Printf("%sSteps:%s       %d/%d done", colorDim, colorReset, s.Done(), s.Total)
	if s.Failed > 0 {
		cmd.Printf(" %s(%d failed)%s", colorRed, s.Failed, colorReset)
	}
	cmd.Println()

	if process.Message != "" {
		cmd.Printf("%sMessage:%s     %s%s%s\n", colorDim, colorReset, colorRed, process.Message, colorReset)
	}

	cmd.Printf("%sStarted:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(process.StartedAt))

	// Duration if both times available
	if process.StartedAt != nil && process.CompletedAt != nil {
		duration := process.CompletedAt.Sub(*process.StartedAt)
		cmd.Printf("%sFinished:%s    %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(process.CompletedAt),
			colorCyan, formatDuration(duration), colorReset)
	} else {
		cmd.Printf("%sFinished:%s    %s\n", colorDim, colorReset, formatTimeWithRelative(process.CompletedAt))
	}

	if len(process.Output) > 0 {
		cmd.Printf("%sOutput:%s      %s\n", colorDim, colorReset, string(process.Output))
	}
}

func printSteps(cmd *cobra.Command, steps []api.StepResponse) {
	cmd.Println()
	cmd.Printf("%sSteps%s\n", colorBold, colorReset)
	cmd.Println("──────────────────────────────")
	for _, s := range steps {
		cmd.Printf("%s  asset %s\n", colorizeStatus(s.Status), s.AssetID)
		if len(s.Output) > 0 {
			cmd.Printf("    %s\n", string(s.Output))
		}
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
	case "IN_PROGRESS":
		return colorYellow + "⏳" + colorReset
	case "PENDING":
		return colorCyan + "◯" + colorReset
	case "STOPPED":
		return colorDim + "■" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "COMPLETED":
		return icon + " " + colorGreen + status + colorReset
	case "FAILED":
		return icon + " " + colorRed + status + colorReset
	case "IN_PROGRESS":
		return icon + " " + colorYellow + status + colorReset
	case "PENDING":
		return icon + " " + colorCyan + status + colorReset
	case "STOPPED":
		return icon + " " + colorDim + status + colorReset
	default:
		return status
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
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

	statusCmd.Flags().Bool("steps", false, "List every step with its output")
	statusCmd.Flags().BoolP("watch", "w", false, "Follow the process until it finishes")
}
