package main

import (
	"errors"
	"flag"
	"os"

	"FinLearn/internal/di"
	"FinLearn/pkg/config"
	applogger "FinLearn/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	boot, _ := applogger.New(&applogger.Config{Level: "info", Format: "console", Output: "stdout"})

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		var cerr *config.Error
		if errors.As(err, &cerr) {
			boot.Error("invalid configuration", applogger.String("field", cerr.Field), applogger.String("reason", cerr.Reason))
		} else {
			boot.Error("config load failed", applogger.Error(err))
		}
		os.Exit(2)
	}

	app, err := di.InitializeApp(cfg)
	if err != nil {
		boot.Error("app initialization failed", applogger.Error(err))
		os.Exit(1)
	}

	boot.Info("starting",
		applogger.String("env", cfg.Environment),
		applogger.String("symbol", cfg.Engine.Symbol),
		applogger.String("exchange", cfg.Exchange.Mode),
		applogger.Bool("auto_trade", cfg.Engine.AutoTrade),
	)

	if err := app.Run(); err != nil {
		boot.Error("app error", applogger.Error(err))
		os.Exit(1)
	}
}
