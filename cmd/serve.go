package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	coreconfig "github.com/AzielCF/az-offline/core/config"
	"github.com/AzielCF/az-offline/ui/rest"
	"github.com/AzielCF/az-offline/ui/rest/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the offline gateway over http",
	Long:  `Proxies application traffic through the offline cache and exposes the admin API under /api/offline.`,
	Run:   serveGateway,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serveGateway(_ *cobra.Command, _ []string) {
	cfg := coreconfig.Global

	if gateway.Upstreams.Len() == 0 {
		fatalAfterStop("[REST] No upstream configured. Set APP_UPSTREAM or add upstreams to the overlay file.")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := gateway.Start(ctx); err != nil {
		fatalAfterStop("[APP] Failed to start gateway: %v", err)
	}

	fiberConfig := fiber.Config{
		EnableTrustedProxyCheck: true,
		Network:                 "tcp",
		AppName:                 "az-offline gateway",
		ServerHeader:            "Hidden",
		BodyLimit:               32 * 1024 * 1024,
	}
	if len(cfg.App.TrustedProxies) > 0 {
		fiberConfig.TrustedProxies = cfg.App.TrustedProxies
		fiberConfig.ProxyHeader = fiber.HeaderXForwardedHost
	}

	app := fiber.New(fiberConfig)

	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.App.CorsAllowedOrigins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.Recovery())
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}))
	app.Use(limiter.New(limiter.Config{
		Max:        1000,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
	}))

	if cfg.App.Debug {
		app.Use(logger.New())
	}

	apiGroup := app.Group(cfg.App.BasePath + "/api")

	if len(cfg.App.BasicAuth) > 0 {
		account := make(map[string]string)
		for _, basicAuth := range cfg.App.BasicAuth {
			ba := strings.Split(basicAuth, ":")
			if len(ba) != 2 {
				fatalAfterStop("[REST] Basic auth is not valid, please use the format <user>:<secret>")
			}
			account[ba[0]] = ba[1]
		}
		// Only the admin routes are protected; application traffic keeps its own auth.
		apiGroup.Use("/offline", basicauth.New(basicauth.Config{
			Users: account,
			Next: func(c *fiber.Ctx) bool {
				return c.Method() == fiber.MethodOptions
			},
		}))
	} else {
		logrus.Warn("[REST] APP_BASIC_AUTH is empty, the admin API is unprotected")
	}

	// Graceful shutdown handler
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logrus.Info("[REST] Reception of termination signal, shutting down gracefully...")
		if err := app.Shutdown(); err != nil {
			logrus.Errorf("[REST] Error during Fiber shutdown: %v", err)
		}
		cancel()
		StopApp()
	}()

	rest.InitRestOffline(apiGroup, offlineUsecase)
	rest.InitRestProxy(app, cfg.App.BasePath, offlineUsecase, gateway.Upstreams)

	if err := app.Listen(":" + cfg.App.Port); err != nil {
		fatalAfterStop("[REST] Failed to start: %v", err)
	}
}
