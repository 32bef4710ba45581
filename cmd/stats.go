package main

import (
	"fmt"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"
)

var exportStatsCmd = &cobra.Command{
	Use:   "export-stats [file.csv]",
	Short: "Export per-stop delay statistics as CSV",
	Long:  "Writes per-stop delay statistics to the given file, or stdout",
	Args:  cobra.RangeArgs(0, 1),
	RunE:  exportStats,
}

func init() {
	rootCmd.AddCommand(exportStatsCmd)
}

func exportStats(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.storage.StopStatistics()
	if err != nil {
		return err
	}

	out := os.Stdout
	if len(args) == 1 {
		out, err = os.Create(args[0])
		if err != nil {
			return err
		}
		defer out.Close()
	}

	if err := gocsv.Marshal(stats, out); err != nil {
		return fmt.Errorf("marshaling statistics csv: %w", err)
	}
	return nil
}
