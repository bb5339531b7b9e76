package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/guiyumin/tubefetch/internal/core/store"
)

var (
	sweepDir    string
	sweepMaxAge time.Duration
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove stale files from the temporary download directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("dir") {
			cfg.Store.Dir = sweepDir
		}
		if cmd.Flags().Changed("max-age") {
			cfg.Store.MaxAge = sweepMaxAge
		}

		log, err := cfg.Log.NewLogger(cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		sc := cfg.StoreConfig()
		sc.SweepInterval = 0
		st, err := store.New(afero.NewOsFs(), sc, log)
		if err != nil {
			return err
		}

		report, err := st.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		printSweepReport(cmd.OutOrStdout(), st.Dir(), report)
		return report.Err()
	},
}

func init() {
	sweepCmd.Flags().StringVarP(&sweepDir, "dir", "d", "", "temporary download directory")
	sweepCmd.Flags().DurationVar(&sweepMaxAge, "max-age", store.DefaultMaxAge, "remove files older than this")
	_ = sweepCmd.RegisterFlagCompletionFunc("dir", completeDirs)

	rootCmd.AddCommand(sweepCmd)
}

func printSweepReport(w io.Writer, dir string, report store.SweepReport) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	for _, res := range report.Results {
		switch res.Outcome {
		case store.OutcomeDeleted:
			green.Fprintf(w, "  deleted  ")
		case store.OutcomeAbsent:
			yellow.Fprintf(w, "  absent   ")
		default:
			red.Fprintf(w, "  failed   ")
		}
		fmt.Fprintln(w, res.Path)
	}

	fmt.Fprintf(w, "%s: scanned %d, %d deleted, %d failed\n",
		dir, report.Scanned, report.Deleted(), report.Failed())
}
