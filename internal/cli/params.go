package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labring/testreport/pkg/config"
)

var paramsFile string

var paramsCmd = &cobra.Command{
	Use:   "params",
	Short: "Show the effective listener parameters",
	Long:  "Show the listener parameters after applying the YAML file and RP_* environment overrides.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		params, err := config.LoadListenerParameters(paramsFile)
		if err != nil {
			return err
		}

		printParameters(cmd.OutOrStdout(), params)
		if err := params.Validate(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
		}
		return nil
	},
}

func init() {
	paramsCmd.Flags().StringVarP(&paramsFile, "file", "f", "", "listener parameters YAML file")
}
