// root.go viper root command code
package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/b08x/omega-13/cmd/health"
	"github.com/b08x/omega-13/cmd/record"
	"github.com/b08x/omega-13/cmd/sessions"
	"github.com/b08x/omega-13/cmd/toggle"
	"github.com/b08x/omega-13/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "omega-13",
		Short: "Retroactive audio recorder",
		Long:  "Continuously captures live audio into a rolling window and, on trigger, persists the last seconds plus everything after into a file, optionally transcribing it.",
	}

	if err := setupFlags(rootCmd, settings); err != nil {
		log.Printf("error setting up flags: %v\n", err)
	}

	rootCmd.AddCommand(
		record.Command(settings),
		toggle.Command(),
		health.Command(settings),
		sessions.Command(settings),
	)

	return rootCmd
}

// setupFlags configures the global flags for the root command.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Session.TempRoot, "temproot", viper.GetString("session.temproot"), "Root directory for temp sessions")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
