package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	coreconfig "github.com/AzielCF/az-offline/core/config"
	domainOffline "github.com/AzielCF/az-offline/domains/offline"
	"github.com/AzielCF/az-offline/offline"
	"github.com/AzielCF/az-offline/pkg/utils"
	"github.com/AzielCF/az-offline/usecase"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	gateway        *offline.Gateway
	offlineUsecase domainOffline.IOfflineUsecase

	flagPort       string
	flagDebug      bool
	flagBasicAuth  []string
	flagBasePath   string
	flagBackend    string
	flagConfigFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "az-offline",
	Short: "Offline-first caching and sync gateway",
	Long: `az-offline sits between an application and its upstreams. It keeps
versioned caches of the application shell, serves stale data when the network
is gone, and queues writes until connectivity returns.`,
}

func init() {
	// Load .env before anything reads the environment
	utils.LoadConfig(".")

	time.Local = time.UTC

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	initFlags()

	cobra.OnInitialize(initEnvConfig, initApp)
}

func initFlags() {
	rootCmd.PersistentFlags().StringVarP(
		&flagPort,
		"port", "p",
		"",
		"change port number with --port <number> | example: --port=8080",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&flagDebug,
		"debug", "d",
		false,
		"hide or displaying log with --debug <true/false> | example: --debug=true",
	)
	rootCmd.PersistentFlags().StringSliceVarP(
		&flagBasicAuth,
		"basic-auth", "b",
		nil,
		"basic auth credential for the admin API | -b=yourUsername:yourPassword",
	)
	rootCmd.PersistentFlags().StringVarP(
		&flagBasePath,
		"base-path", "",
		"",
		`base path for subpath deployment --base-path <string> | example: --base-path="/gw"`,
	)
	rootCmd.PersistentFlags().StringVarP(
		&flagBackend,
		"cache-backend", "",
		"",
		`cache store backend --cache-backend <memory|valkey|sql> | example: --cache-backend=sql`,
	)
	rootCmd.PersistentFlags().StringVarP(
		&flagConfigFile,
		"config", "c",
		"",
		`overlay file for manifest, volatile rules, upstreams and refresh resources | example: --config=offline.yaml`,
	)
}

// initEnvConfig loads configuration from the environment, then lets flags override it
func initEnvConfig() {
	if flagConfigFile != "" {
		_ = os.Setenv("OFFLINE_CONFIG", flagConfigFile)
	}
	if flagBackend != "" {
		_ = os.Setenv("CACHE_BACKEND", flagBackend)
	}

	cfg, err := coreconfig.LoadConfig()
	if err != nil {
		logrus.Fatalf("[CONFIG] %v", err)
	}

	if flagPort != "" {
		cfg.App.Port = flagPort
	}
	if flagDebug {
		cfg.App.Debug = true
	}
	if len(flagBasicAuth) > 0 {
		cfg.App.BasicAuth = flagBasicAuth
	}
	if flagBasePath != "" {
		cfg.App.BasePath = flagBasePath
	}

	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
		logrus.Debugf("[CONFIG] %v", coreconfig.GetAllSettings())
	}
}

func initApp() {
	cfg := coreconfig.Global

	if err := utils.CreateFolder(cfg.Paths.Storages); err != nil {
		logrus.Errorln(err)
	}

	gw, err := offline.New(context.Background(), cfg, offline.Options{})
	if err != nil {
		logrus.Fatalf("[APP] Failed to build offline gateway: %v", err)
	}
	gateway = gw
	offlineUsecase = usecase.NewOfflineService(gw)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// StopApp drains background writes and closes every connection.
func StopApp() {
	logrus.Info("[APP] Stopping application...")
	if gateway != nil {
		gateway.Stop()
	}
	logrus.Info("[APP] Application stopped cleanly.")
}

// fatalAfterStop is logrus.Fatalf for code that runs after initApp: the
// gateway is stopped before the process exits.
func fatalAfterStop(format string, args ...any) {
	logrus.Errorf(format, args...)
	StopApp()
	os.Exit(1)
}

// printResult writes a one-shot command result as indented JSON.
func printResult(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logrus.WithError(err).Error("[APP] Could not encode result")
		return
	}
	fmt.Println(string(out))
}
