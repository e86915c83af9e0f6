package trigger

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndReadPIDFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "omega-13.pid")
	require.NoError(t, WritePIDFile(path))

	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, RemovePIDFile(path))
	_, err = ReadPIDFile(path)
	assert.Error(t, err)
}

func TestWritePIDFileRefusesLiveInstance(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "omega-13.pid")
	// Current process is certainly alive.
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644))

	err := WritePIDFile(path)
	assert.Error(t, err, "a live pid refuses a second instance")
}

func TestWritePIDFileReplacesStale(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "omega-13.pid")
	// A pid far above any live process on the test machine.
	require.NoError(t, os.WriteFile(path, []byte("999999999"), 0o644))

	require.NoError(t, WritePIDFile(path))
	pid, err := ReadPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestReadPIDFileMalformed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "omega-13.pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))
	_, err := ReadPIDFile(path)
	assert.Error(t, err)
}

func TestRemovePIDFileMissingIsNoop(t *testing.T) {
	t.Parallel()
	assert.NoError(t, RemovePIDFile(filepath.Join(t.TempDir(), "absent.pid")))
}
