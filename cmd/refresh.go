package cmd

import (
	"context"
	"fmt"

	"github.com/AzielCF/az-offline/infrastructure/signals"
	"github.com/spf13/cobra"
)

var refreshSignal bool

var refreshCmd = &cobra.Command{
	Use:          "refresh",
	Short:        "Run one scheduled refresh tick",
	Long:         `Meant for cron or any platform periodic trigger. Skipped while no version is active.`,
	SilenceUsage: true,
	RunE:         refreshResources,
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshSignal, "signal", false, "publish the periodic signal so a running gateway refreshes instead")
	rootCmd.AddCommand(refreshCmd)
}

func refreshResources(_ *cobra.Command, _ []string) error {
	defer StopApp()
	ctx := context.Background()

	if refreshSignal {
		return publishSignal(ctx, signals.ChannelPeriodic)
	}

	if err := gateway.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	report, err := offlineUsecase.PeriodicSync(ctx)
	if err != nil {
		return fmt.Errorf("tick failed: %w", err)
	}
	printResult(report)
	return nil
}
