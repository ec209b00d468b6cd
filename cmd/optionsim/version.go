package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "unknown"
)

const (
	outputFlagName     = "output"
	outputFlagValJSON  = "json"
	outputFlagValHuman = "human"
)

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().String(outputFlagName, outputFlagValHuman, "Specify the output format: json,human")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the optionsim version",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, err := cmd.Flags().GetString(outputFlagName)
		if err != nil {
			return err
		}

		switch output {
		case outputFlagValHuman:
			fmt.Fprintf(cmd.OutOrStdout(), "optionsim %s (%s)\n", version, commit)
			return nil
		case outputFlagValJSON:
			return json.NewEncoder(cmd.OutOrStdout()).Encode(struct {
				Version string `json:"version"`
				Commit  string `json:"commit"`
			}{
				Version: version,
				Commit:  commit,
			})
		default:
			return fmt.Errorf("%s flag must be either %q or %q", outputFlagName, outputFlagValHuman, outputFlagValJSON)
		}
	},
}
