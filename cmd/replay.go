package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/AzielCF/az-offline/infrastructure/signals"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var replaySignal bool

var replayCmd = &cobra.Command{
	Use:          "replay",
	Short:        "Replay queued writes now that connectivity is back",
	SilenceUsage: true,
	RunE:         replayDeferred,
}

func init() {
	replayCmd.Flags().BoolVar(&replaySignal, "signal", false, "publish the online signal so a running gateway replays instead")
	rootCmd.AddCommand(replayCmd)
}

func replayDeferred(_ *cobra.Command, _ []string) error {
	defer StopApp()
	ctx := context.Background()

	if replaySignal {
		return publishSignal(ctx, signals.ChannelOnline)
	}

	if err := gateway.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	report, err := offlineUsecase.Online(ctx)
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}
	printResult(report)
	return nil
}

func publishSignal(ctx context.Context, channel string) error {
	if gateway.Valkey == nil {
		return errors.New("--signal needs VALKEY_ENABLED=true")
	}
	if err := signals.Notify(ctx, gateway.Valkey, channel); err != nil {
		return fmt.Errorf("publish on %s failed: %w", channel, err)
	}
	logrus.Infof("[SIGNALS] Published %s", channel)
	return nil
}
