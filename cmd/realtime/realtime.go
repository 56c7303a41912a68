// Package realtime implements the realtime analysis subcommand.
package realtime

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mverteuil/BirdNET-Pi-sub001/internal/analysis"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/conf"
)

// Command creates the command for realtime audio analysis.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Analyze audio in realtime mode",
		Long:  "Start analyzing incoming audio data in real-time looking for bird calls.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return analysis.RealtimeAnalysis(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the realtime command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Realtime.Audio.Source, "source", viper.GetString("realtime.audio.source"), "Audio capture source (\"sysdefault\", \"USB Audio\", \":0,0\", etc.)")
	cmd.Flags().BoolVar(&settings.Realtime.Audio.Export.Enabled, "export", viper.GetBool("realtime.audio.export.enabled"), "Export audio clips of accepted detections")
	cmd.Flags().StringVar(&settings.Realtime.Audio.Export.Path, "clippath", viper.GetString("realtime.audio.export.path"), "Path to save audio clips")
	cmd.Flags().IntVar(&settings.Realtime.Cooldown.Interval, "cooldown", viper.GetInt("realtime.cooldown.interval"), "Per species suppression interval in seconds")
	cmd.Flags().StringVar(&settings.Realtime.Cooldown.Reset, "cooldownreset", viper.GetString("realtime.cooldown.reset"), "Cooldown reset mode, \"first-accept\" or \"sliding\"")
	cmd.Flags().BoolVar(&settings.Realtime.Telemetry.Enabled, "telemetry", viper.GetBool("realtime.telemetry.enabled"), "Enable Prometheus telemetry endpoint")
	cmd.Flags().StringVar(&settings.Realtime.Telemetry.Listen, "listen", viper.GetString("realtime.telemetry.listen"), "Listen address and port of telemetry endpoint")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
