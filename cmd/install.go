package cmd

import (
	"context"
	"fmt"
	"strconv"

	coreconfig "github.com/AzielCF/az-offline/core/config"
	domainOffline "github.com/AzielCF/az-offline/domains/offline"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var installCmd = &cobra.Command{
	Use:          "install [version]",
	Short:        "Install and activate a store version",
	Long:         `Fetches every manifest asset into a new static store and activates it. Defaults to CACHE_VERSION.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         installVersion,
}

func init() {
	rootCmd.AddCommand(installCmd)
}

func installVersion(_ *cobra.Command, args []string) error {
	defer StopApp()
	ctx := context.Background()

	if coreconfig.Global.Cache.Backend == "memory" {
		logrus.Warn("[INSTALL] Memory backend: the installed stores are discarded when this command exits")
	}

	version := coreconfig.Global.Cache.Version
	if len(args) == 1 {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q", args[0])
		}
		version = v
	}

	if err := gateway.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	snap, err := offlineUsecase.Install(ctx, domainOffline.InstallRequest{Version: version})
	if err != nil {
		return fmt.Errorf("version %d not installed: %w", version, err)
	}
	printResult(snap)
	return nil
}
