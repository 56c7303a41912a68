package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mverteuil/BirdNET-Pi-sub001/cmd"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/conf"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/logging"
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := initLogging(settings); err != nil {
		fmt.Fprintf(os.Stderr, "error initializing logging: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logging.Close()
	}()

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func initLogging(settings *conf.Settings) error {
	level := slog.LevelInfo
	if settings.Debug {
		level = slog.LevelDebug
	}

	logPath := ""
	if settings.Main.Log.Enabled {
		logPath = settings.Main.Log.Path
	}

	return logging.Init(logPath, settings.Main.Log.MaxSize, settings.Main.Log.MaxAge, level)
}
