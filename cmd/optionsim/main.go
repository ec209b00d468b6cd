// Command optionsim runs the options market simulation.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "optionsim",
	Short: "Options market simulation: bots writing, buying and exercising CALL and PUT contracts",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
