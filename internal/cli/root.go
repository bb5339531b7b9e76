package cli

import (
	"github.com/spf13/cobra"

	"github.com/guiyumin/tubefetch/internal/core/config"
	"github.com/guiyumin/tubefetch/internal/core/version"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "tubefetch",
	Short: "HTTP service that downloads videos with yt-dlp and streams them back",
	Long: `tubefetch accepts a video URL, runs yt-dlp to fetch it as mp3 or mp4,
streams the file to the caller and removes it shortly afterwards.

Run 'tubefetch serve' to start the HTTP API.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: ~/.config/tubefetch/config.yml)")
	_ = rootCmd.RegisterFlagCompletionFunc("config", completeYAML)
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the layered configuration. Flags are applied by each command.
func loadConfig() (*config.Config, error) {
	return config.Load(configFile)
}
