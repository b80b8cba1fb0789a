package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long:  "Prints the fully resolved configuration after defaults, file, and environment overrides. Vendor keys are redacted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := cfg.Redacted().YAML()
		if err != nil {
			return eris.Wrap(err, "render config")
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
