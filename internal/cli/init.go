package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/guiyumin/tubefetch/internal/core/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a tubefetch config file with default values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configFile
		if path == "" {
			path = config.SavePath()
		}
		if err := config.Init(path); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
