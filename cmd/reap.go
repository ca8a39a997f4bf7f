package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var reapOlderThan time.Duration

var reapCmd = &cobra.Command{
	Use:   "reap",
	Short: "Fail pending and running jobs that stopped reporting",
	Long:  "Marks jobs whose last update is older than --older-than as failed. Use after a worker crash or restart.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if reapOlderThan <= 0 {
			return eris.New("--older-than must be positive")
		}
		if err := cfg.Validate("reap"); err != nil {
			return err
		}
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.ReapStaleJobs(cmd.Context(), time.Now().Add(-reapOlderThan))
		if err != nil {
			return err
		}
		zap.L().Info("reaped stale jobs", zap.Int("jobs", n), zap.Duration("older_than", reapOlderThan))
		fmt.Fprintf(cmd.OutOrStdout(), "reaped %d job(s)\n", n)
		return nil
	},
}

func init() {
	reapCmd.Flags().DurationVar(&reapOlderThan, "older-than", 6*time.Hour, "age of the last job update")
	rootCmd.AddCommand(reapCmd)
}
