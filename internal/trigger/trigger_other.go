//go:build !unix

package trigger

import (
	"context"

	"github.com/b08x/omega-13/internal/errors"
)

// Supported reports whether toggle IPC works on this platform.
func Supported() bool { return false }

// Notify is unavailable without a POSIX toggle signal.
func Notify(pidPath string) error {
	return errors.Newf("toggle IPC is not supported on this platform").
		Component("trigger").
		Category(errors.CategorySystem).
		Build()
}

// Listen is a no-op without a POSIX toggle signal.
func Listen(ctx context.Context, onToggle func()) {}

func processAlive(pid int) bool { return false }
