package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/benno1237/bennos-cogs/internal/app"
)

var stopTimeout time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to Discord and serve commands",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := app.New(cfgFile)
		if err != nil {
			return fmt.Errorf("init: %w", err)
		}
		if err := a.Start(ctx); err != nil {
			_ = a.Stop(context.Background(), app.StopFatalError)
			return fmt.Errorf("start: %w", err)
		}

		reason := app.StopSignal
		select {
		case <-ctx.Done():
		case <-a.Done():
			if a.Err() != nil {
				reason = app.StopFatalError
			}
		}

		sctx, scancel := context.WithTimeout(context.Background(), stopTimeout)
		defer scancel()
		stopErr := a.Stop(sctx, reason)
		return errors.Join(a.Err(), stopErr)
	},
}

func init() {
	runCmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 30*time.Second, "upper bound for graceful shutdown")
	rootCmd.AddCommand(runCmd)
}
