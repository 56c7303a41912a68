// Package config implements the configuration inspection subcommand.
package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mverteuil/BirdNET-Pi-sub001/internal/conf"
)

// Command creates the command that shows or saves the effective configuration.
func Command(settings *conf.Settings) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Long:  "Print the effective configuration after defaults, config file and flags, or save it to a file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "" {
				if err := conf.SaveSettings(settings, output); err != nil {
					return err
				}
				fmt.Println("configuration written to:", output)
				return nil
			}

			if path, err := conf.FindConfigFile(); err == nil {
				fmt.Println("# config file:", path)
			} else {
				fmt.Println("# no config file found, showing defaults")
			}

			data, err := yaml.Marshal(settings)
			if err != nil {
				return fmt.Errorf("error marshaling settings: %w", err)
			}
			fmt.Print(string(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the effective configuration to this file")

	return cmd
}
