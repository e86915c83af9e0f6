// Package trigger implements the toggle IPC used for global-hotkey
// integration: a PID file under the user's runtime directory and a
// platform signal delivered to the running instance. On platforms without
// such a signal the package degrades to a no-op listener; the core never
// depends on it.
package trigger

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/b08x/omega-13/internal/conf"
	"github.com/b08x/omega-13/internal/errors"
)

// PIDFilePath returns the well-known PID file location.
func PIDFilePath() string {
	return filepath.Join(conf.RuntimeDir(), "omega-13.pid")
}

// WritePIDFile records the current process id. An existing file from a
// live process refuses the write; a stale file is replaced.
func WritePIDFile(path string) error {
	if pid, err := ReadPIDFile(path); err == nil {
		if processAlive(pid) {
			return errors.Newf("another instance is already running with pid %d", pid).
				Component("trigger").
				Category(errors.CategoryState).
				Context("pid_file", path).
				Build()
		}
	}
	data := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return errors.New(err).
			Component("trigger").
			Category(errors.CategoryFileIO).
			Context("operation", "write_pid_file").
			Context("path", path).
			Build()
	}
	return nil
}

// RemovePIDFile deletes the PID file; missing files are not an error.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.New(err).
			Component("trigger").
			Category(errors.CategoryFileIO).
			Context("operation", "remove_pid_file").
			Context("path", path).
			Build()
	}
	return nil
}

// ReadPIDFile parses the pid recorded at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, errors.Newf("malformed pid file %s", path).
			Component("trigger").
			Category(errors.CategoryValidation).
			Build()
	}
	return pid, nil
}
