package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kkhwan1/bloomberg-data/breaker"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache and circuit breaker status",
	RunE: func(cmd *cobra.Command, args []string) error {
		comp, err := buildComposition()
		if err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			os.Exit(exitConfig)
		}
		defer comp.cache.Close()

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()

		fmt.Printf("\n%s\n\n", cyan("=== Collector Status ==="))

		cacheStats, err := comp.cache.Statistics(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading cache statistics: %v\n", err)
			os.Exit(exitOperation)
		}
		fmt.Printf("%s\n", yellow("Cache:"))
		fmt.Printf("  Entries:  %d valid / %d expired (%d total)\n", cacheStats.ValidEntries, cacheStats.ExpiredEntries, cacheStats.TotalEntries)
		fmt.Printf("  Hits:     %d total, %.2f avg/entry\n", cacheStats.TotalHits, cacheStats.AvgHitsPerEntry)
		fmt.Printf("  TTL:      %s\n\n", cacheStats.TTL)

		fmt.Printf("%s\n", yellow("Circuit Breakers:"))
		for _, name := range []string{"free", "paid"} {
			b, ok := comp.breakers[name]
			if !ok {
				continue
			}
			printBreakerLine(name, b)
		}
		fmt.Println()
		return nil
	},
}

func printBreakerLine(name string, b *breaker.Breaker) {
	snap := b.Statistics()

	var stateColor *color.Color
	switch snap.State {
	case breaker.Closed:
		stateColor = color.New(color.FgGreen)
	case breaker.HalfOpen:
		stateColor = color.New(color.FgYellow)
	default:
		stateColor = color.New(color.FgRed, color.Bold)
	}

	fmt.Printf("  %-6s %s  calls=%d failures=%d rejections=%d failure_rate=%.1f%%\n",
		name+":", stateColor.Sprint(snap.State.String()), snap.Totals.Calls, snap.Totals.Failures, snap.Totals.Rejections, snap.FailureRate*100)
}
