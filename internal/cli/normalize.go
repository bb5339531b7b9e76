package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/guiyumin/tubefetch/internal/core/extractor"
)

var normalizeIDOnly bool

var normalizeCmd = &cobra.Command{
	Use:   "normalize <url>...",
	Short: "Print the canonical watch URL for each input",
	Long: `Print the canonical watch URL for each input.

Inputs without a recognizable video ID are printed unchanged, with a
warning on stderr.

Examples:
  tubefetch normalize "https://youtu.be/dQw4w9WgXcQ?t=5"
  tubefetch normalize --id "https://www.youtube.com/shorts/dQw4w9WgXcQ"`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		yellow := color.New(color.FgYellow)

		for _, raw := range args {
			id, ok := extractor.ExtractVideoID(raw)
			if !ok {
				yellow.Fprintf(cmd.ErrOrStderr(), "no video ID in %s\n", raw)
				if !normalizeIDOnly {
					fmt.Fprintln(cmd.OutOrStdout(), raw)
				}
				continue
			}
			if normalizeIDOnly {
				fmt.Fprintln(cmd.OutOrStdout(), id)
				continue
			}
			fmt.Fprintln(cmd.OutOrStdout(), extractor.WatchURL(id))
		}
	},
}

func init() {
	normalizeCmd.Flags().BoolVar(&normalizeIDOnly, "id", false, "print only the video ID")

	rootCmd.AddCommand(normalizeCmd)
}
