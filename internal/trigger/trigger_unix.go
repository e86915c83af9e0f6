//go:build unix

package trigger

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/b08x/omega-13/internal/errors"
)

// Supported reports whether toggle IPC works on this platform.
func Supported() bool { return true }

// Notify locates the running instance via its PID file and delivers the
// toggle signal.
func Notify(pidPath string) error {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return errors.New(err).
			Component("trigger").
			Category(errors.CategoryNotFound).
			Context("pid_file", pidPath).
			Context("hint", "is the recorder running?").
			Build()
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return errors.New(err).
			Component("trigger").
			Category(errors.CategoryNotFound).
			Context("pid", pid).
			Build()
	}
	if err := proc.Signal(syscall.SIGUSR1); err != nil {
		return errors.New(err).
			Component("trigger").
			Category(errors.CategorySystem).
			Context("pid", pid).
			Build()
	}
	return nil
}

// Listen forwards SIGUSR1 deliveries to onToggle until ctx is cancelled.
// The runtime delivers signals on a channel; onToggle runs on an ordinary
// goroutine and must only schedule work, which Controller.Toggle does.
func Listen(ctx context.Context, onToggle func()) {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGUSR1)

	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				onToggle()
			}
		}
	}()
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
