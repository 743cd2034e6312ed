package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "shopbot",
	Short:         "Shopping assistant: catalog search, cart, checkout and order tracking",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// color.NoColor is already true for non-terminals and NO_COLOR.
		noColor = noColor || color.NoColor
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the shopbot version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "shopbot version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, versionCmd)
	rootCmd.AddCommand(chatCmd, searchCmd, cartCmd, trackCmd)
	rootCmd.AddCommand(interactionsCmd, catalogCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
