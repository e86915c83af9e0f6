package health

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/b08x/omega-13/internal/conf"
	"github.com/b08x/omega-13/internal/errors"
	"github.com/b08x/omega-13/internal/transcribe"
)

// Command creates the health probe command for the transcription backend.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check transcription backend reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := transcribe.NewClient(settings.Transcription.Backend)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if !client.Health(ctx) {
				return errors.Newf("transcription backend %s is unreachable",
					settings.Transcription.Backend.URL).
					Component("health").
					Category(errors.CategoryNetwork).
					Build()
			}
			fmt.Printf("transcription backend %s is reachable\n", settings.Transcription.Backend.URL)
			return nil
		},
	}
}
