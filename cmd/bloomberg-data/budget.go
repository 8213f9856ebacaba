package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show cost budget and spend statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		comp, err := buildComposition()
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			os.Exit(exitConfig)
		}
		defer comp.cache.Close()

		stats := comp.tracker.Statistics()

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Cost Budget Status ==="))

		var alertColor *color.Color
		switch stats.AlertLevel {
		case "ok":
			alertColor = color.New(color.FgGreen)
		case "warning":
			alertColor = color.New(color.FgYellow)
		default:
			alertColor = color.New(color.FgRed, color.Bold)
		}
		fmt.Printf("Alert Level: %s\n\n", alertColor.Sprint(string(stats.AlertLevel)))

		fmt.Printf("%s\n", yellow("Spend:"))
		fmt.Printf("  Total:     $%.4f / $%.2f (%.1f%%)\n", stats.TotalCost, stats.Budget, stats.UsageRatio*100)
		fmt.Printf("             %s\n", renderProgressBar(stats.UsageRatio*100, 40))
		fmt.Printf("  Requests:  %d (%d ok, %d failed)\n\n", stats.TotalRequests, stats.SuccessfulRequests, stats.FailedRequests)

		fmt.Printf("%s\n", yellow("Projection:"))
		fmt.Printf("  Daily avg: $%.4f\n", stats.DailyAverageCost)
		if stats.DaysUntilExhaustion != nil {
			fmt.Printf("  Exhausts:  in %.1f days\n", *stats.DaysUntilExhaustion)
		} else {
			fmt.Printf("  Exhausts:  n/a (no spend yet)\n")
		}
		fmt.Println()
		return nil
	},
}

// renderProgressBar renders a text-based progress bar in the style of
// a colorized cost-dashboard CLI.
func renderProgressBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	filled := int(percent / 100.0 * float64(width))

	var barColor *color.Color
	switch {
	case percent >= 95:
		barColor = color.New(color.FgRed, color.Bold)
	case percent >= 80:
		barColor = color.New(color.FgYellow)
	default:
		barColor = color.New(color.FgGreen)
	}

	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += barColor.Sprint("█")
		} else {
			bar += color.New(color.FgHiBlack).Sprint("░")
		}
	}
	return fmt.Sprintf("[%s]", bar)
}
