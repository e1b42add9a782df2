package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "wanderd",
	Short: "wanderd runs one node of the wander overlay",
	Long: "wanderd runs one node of the wander overlay: it relays packets\n" +
		"along randomized multi-hop paths and bridges them to regular TCP\n" +
		"services at the path's end.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
