package session

import (
	"os"
	"path/filepath"
	"time"

	"github.com/b08x/omega-13/internal/errors"
	"github.com/b08x/omega-13/internal/logging"
)

// CleanupStale removes temp sessions under tempRoot whose session.json was
// last modified more than maxAge ago. Directories without a session.json
// are left alone, as is anything outside tempRoot. Returns the number of
// sessions removed.
func CleanupStale(tempRoot string, maxAge time.Duration) (int, error) {
	logger := logging.ForService("session")

	entries, err := os.ReadDir(tempRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.New(err).
			Component("session").
			Category(errors.CategoryFileIO).
			Context("operation", "read_temp_root").
			Context("path", tempRoot).
			Build()
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(tempRoot, entry.Name())

		info, err := os.Stat(filepath.Join(dir, "session.json"))
		if err != nil {
			// Not a session directory, or unreadable; never delete on doubt.
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, errors.New(err).
				Component("session").
				Category(errors.CategoryFileIO).
				Context("operation", "remove_stale_session").
				Context("path", dir).
				Build())
			continue
		}
		removed++
		logger.Info("removed stale session", "path", dir, "mtime", info.ModTime())
	}

	if len(errs) > 0 {
		return removed, errors.Join(errs...)
	}
	return removed, nil
}
