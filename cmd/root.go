// Package cmd assembles the command line interface.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	configcmd "github.com/mverteuil/BirdNET-Pi-sub001/cmd/config"
	"github.com/mverteuil/BirdNET-Pi-sub001/cmd/realtime"
	"github.com/mverteuil/BirdNET-Pi-sub001/cmd/sources"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "birdnet-pi",
		Short: "Realtime bird vocalization detection",
	}

	setupFlags(rootCmd, settings)

	rootCmd.AddCommand(
		realtime.Command(settings),
		sources.Command(),
		configcmd.Command(settings),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// device listing and config inspection do not need a valid
		// pipeline configuration
		switch cmd.Name() {
		case "sources", "config":
			return nil
		}
		return conf.ValidateSettings(settings)
	}

	return rootCmd
}

// setupFlags configures the global flags shared by all subcommands.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	cmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	cmd.PersistentFlags().Float64VarP(&settings.BirdNET.Sensitivity, "sensitivity", "s", viper.GetFloat64("birdnet.sensitivity"), "Sigmoid sensitivity value between 0.1 and 1.5")
	cmd.PersistentFlags().Float64VarP(&settings.BirdNET.Threshold, "threshold", "t", viper.GetFloat64("birdnet.threshold"), "Confidence threshold for accepting detections, 0.1 to 1.0")
	cmd.PersistentFlags().Float64Var(&settings.BirdNET.Overlap, "overlap", viper.GetFloat64("birdnet.overlap"), "Overlap between analysis windows in seconds, 0.0 to 2.9")
	cmd.PersistentFlags().IntVar(&settings.BirdNET.Threads, "threads", viper.GetInt("birdnet.threads"), "Number of CPU threads to use, 0 to use all")
	cmd.PersistentFlags().StringVarP(&settings.BirdNET.Locale, "locale", "l", viper.GetString("birdnet.locale"), "Locale for common species names")
	cmd.PersistentFlags().StringVar(&settings.BirdNET.ModelPath, "model", viper.GetString("birdnet.modelpath"), "Path to the tflite model file")
	cmd.PersistentFlags().StringVar(&settings.BirdNET.LabelPath, "labels", viper.GetString("birdnet.labelpath"), "Path to the species label file")

	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
	}
}
