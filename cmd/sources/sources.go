// Package sources implements the audio device listing subcommand.
package sources

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mverteuil/BirdNET-Pi-sub001/internal/myaudio"
)

// Command creates the command that lists available capture devices.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List available audio capture sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := myaudio.ListAudioSources()
			if err != nil {
				return fmt.Errorf("failed to list audio sources: %w", err)
			}

			if len(devices) == 0 {
				fmt.Println("No capture devices found")
				return nil
			}

			for i, device := range devices {
				fmt.Printf("%d: %s\n", i, device.Name)
			}
			return nil
		},
	}
}
