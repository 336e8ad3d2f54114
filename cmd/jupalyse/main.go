// Command jupalyse exports the deposit and trade history of recurring and
// trigger swap orders to CSV, valued in USD where historical prices exist.
//
// Usage:
//
//	jupalyse --config config.yaml
//	jupalyse --setup (interactive wizard, then runs with config.gen.yaml)
//
// Environment variables (also read from .env):
//
//	BIRDEYE_API_KEY or PRICE_API_KEY for the Birdeye price source
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mcintyre94/jupalyse/config"
	"github.com/mcintyre94/jupalyse/internal/app"
	"github.com/mcintyre94/jupalyse/internal/setup"
	"github.com/mcintyre94/jupalyse/internal/web"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if flags.Setup {
		if err := setup.RunTUI(); err != nil {
			logger.Fatal("Setup failed", zap.Error(err))
		}
		flags.ConfigPath = setup.ConfigFile
	}

	conf, err := config.Get(flags)
	if err != nil {
		logger.Fatal("failed to get configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.MetricsAddr != "" {
		go func() {
			logger.Info("Serving metrics", zap.String("addr", conf.MetricsAddr))
			if err := web.NewServer(conf.MetricsAddr).Start(ctx); err != nil {
				logger.Error("Metrics server stopped", zap.Error(err))
			}
		}()
	}

	a, err := app.New(ctx, conf, logger)
	if err != nil {
		logger.Fatal("failed to create app", zap.Error(err))
	}
	defer a.Close()

	summary, err := a.Run(ctx)
	if err != nil {
		logger.Error("Export failed", zap.Error(err))
		a.Close()
		os.Exit(1)
	}

	fmt.Println(summary.Render())
}
