package cmd

import (
	"fmt"

	"github.com/q-controller/imgrelay/src/pkg/janitor"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Deletes scratch files older than --max-age and exits",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, _ := cmd.Flags().GetString("dir")
		maxAge, _ := cmd.Flags().GetDuration("max-age")
		if maxAge < 0 {
			return fmt.Errorf("max-age must not be negative: %s", maxAge)
		}

		deleted := janitor.New(janitor.Config{Dir: dir}).Sweep(maxAge)
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d file(s)\n", deleted)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().String("dir", "tmp", "Scratch directory to sweep")
	sweepCmd.Flags().Duration("max-age", janitor.DefaultMaxAge, "Delete files at least this old; 0 deletes everything")
}
