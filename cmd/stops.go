package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"linewatch.dev/linewatch/parse"
)

var importStopsCmd = &cobra.Command{
	Use:   "import-stops <file.csv>",
	Short: "Load candidate stops from a CSV export",
	Args:  cobra.ExactArgs(1),
	RunE:  importStops,
}

var listStopsCmd = &cobra.Command{
	Use:   "stops",
	Short: "List known stops",
	RunE:  listStops,
}

func init() {
	rootCmd.AddCommand(importStopsCmd)
	rootCmd.AddCommand(listStopsCmd)
}

func importStops(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	stops, err := parse.ParseStops(f)
	if err != nil {
		return err
	}

	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	for _, stop := range stops {
		if err := a.storage.UpsertStop(stop); err != nil {
			return fmt.Errorf("importing stop '%s': %w", stop.ID, err)
		}
	}

	fmt.Printf("imported %d stops\n", len(stops))
	return nil
}

func listStops(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	stops, err := a.storage.ListStops()
	if err != nil {
		return err
	}

	for _, stop := range stops {
		fmt.Printf("%s: %s (%.6f, %.6f)\n", stop.ID, stop.Name, stop.Lat, stop.Lon)
	}
	return nil
}
