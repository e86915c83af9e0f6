package record

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/b08x/omega-13/internal/conf"
	"github.com/b08x/omega-13/internal/engine"
)

// Command creates the realtime capture command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Run the realtime capture engine",
		Long:  "Start capturing audio into the rolling buffer and wait for manual or auto triggers. SIGUSR1 or 'omega-13 toggle' starts and stops recordings.",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := engine.New(settings, nil)
			if err != nil {
				return err
			}
			return eng.Run(context.Background())
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the record command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Audio.Device, "device", viper.GetString("audio.device"), "Capture device name, empty for default")
	cmd.Flags().IntVar(&settings.Audio.BufferSeconds, "buffer", viper.GetInt("audio.bufferseconds"), "Rolling pre-roll window in seconds")
	cmd.Flags().BoolVar(&settings.Recorder.AutoRecord, "auto", viper.GetBool("recorder.autorecord"), "Arm voice-activity auto record at startup")
	cmd.Flags().BoolVar(&settings.Transcription.Enabled, "transcribe", viper.GetBool("transcription.enabled"), "Dispatch finished recordings for transcription")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
