package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"untisfeed/internal/app"
	"untisfeed/internal/config"
	appLog "untisfeed/internal/log"
)

// flagConfig holds CLI flag values before full config loading.
type flagConfig struct {
	configPath string
	listen     string
	weeks      int
	output     string
	once       bool
}

func main() {
	// Credentials may live in a .env file next to the binary; absence
	// is fine.
	_ = godotenv.Load()

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI overrides win over config file and environment.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.weeks > 0 {
		conf.Weeks = flags.weeks
	}
	if flags.output != "" {
		conf.Output = flags.output
	}

	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("untisfeed starting",
		"server", conf.Server,
		"weeks", conf.Weeks,
		"timezone", conf.Timezone,
		"output", conf.Output,
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	runner, err := app.NewRunner(conf)
	if err != nil {
		appLog.Error("failed to initialize", err)
		os.Exit(1)
	}

	if flags.once {
		if err := runner.RunOnce(ctx); err != nil {
			appLog.Error("run failed", err)
			os.Exit(1)
		}
		return
	}

	if err := runner.RunDaemon(ctx); err != nil {
		appLog.Error("daemon failed", err)
		os.Exit(1)
	}

	appLog.Info("untisfeed exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/untisfeed/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.IntVar(&cfg.weeks, "weeks", 0, "Number of weeks to fetch (overrides config if set)")
	flag.StringVar(&cfg.output, "output", "", "Feed output path (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one fetch+publish cycle and exit")

	flag.Parse()

	return cfg
}
