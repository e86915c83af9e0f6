package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/b08x/omega-13/internal/conf"
	"github.com/b08x/omega-13/internal/session"
)

// Command creates the session maintenance command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and clean temp sessions",
	}
	cmd.AddCommand(listCommand(settings), cleanupCommand(settings))
	return cmd
}

func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List temp sessions under the configured temp root",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := os.ReadDir(settings.Session.TempRoot)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("no sessions")
					return nil
				}
				return err
			}
			for _, entry := range entries {
				if !entry.IsDir() {
					continue
				}
				metaPath := filepath.Join(settings.Session.TempRoot, entry.Name(), "session.json")
				data, err := os.ReadFile(metaPath)
				if err != nil {
					continue
				}
				var meta struct {
					ID         string `json:"id"`
					CreatedAt  string `json:"created_at"`
					Recordings []any  `json:"recordings"`
					Saved      bool   `json:"saved"`
				}
				if err := json.Unmarshal(data, &meta); err != nil {
					continue
				}
				fmt.Printf("%s  created=%s  recordings=%d  saved=%v\n",
					meta.ID, meta.CreatedAt, len(meta.Recordings), meta.Saved)
			}
			return nil
		},
	}
}

func cleanupCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete temp sessions older than the cleanup age",
		RunE: func(cmd *cobra.Command, args []string) error {
			maxAge := time.Duration(settings.Session.AutoCleanupDays) * 24 * time.Hour
			removed, err := session.CleanupStale(settings.Session.TempRoot, maxAge)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d stale sessions\n", removed)
			return nil
		},
	}
}
