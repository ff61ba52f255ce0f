package cmd

import (
	"fmt"

	"github.com/q-controller/imgrelay/src/imgrelayd/cmd/utils"
	"github.com/spf13/cobra"
)

var openapiCmd = &cobra.Command{
	Use:    "openapi",
	Short:  "Produces OpenAPI specifications for the HTTP API",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		specs, specsErr := utils.GenerateOpenAPISpecs()
		if specsErr != nil {
			return fmt.Errorf("failed to generate OpenAPI specs: %w", specsErr)
		}

		fmt.Fprintln(cmd.OutOrStdout(), specs)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(openapiCmd)
}
