package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run one discovery pass and exit",
	RunE:  discover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)
}

func discover(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.discovery.Run(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("%d stops serve line %s (%d checks failed)\n",
		res.Discovered, a.cfg.Line, res.Failed)
	return nil
}
