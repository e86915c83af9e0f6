package toggle

import (
	"github.com/spf13/cobra"

	"github.com/b08x/omega-13/internal/trigger"
)

// Command creates the toggle IPC command: deliver a record toggle to the
// running instance located through its PID file.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle",
		Short: "Toggle recording in the running instance",
		Long:  "Locates the running recorder via its PID file and delivers the platform toggle signal. Intended for global-hotkey integration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return trigger.Notify(trigger.PIDFilePath())
		},
	}
}
