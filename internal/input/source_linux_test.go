//go:build linux

package input

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"dictd/internal/logging"
)

// fifoDevice creates a named pipe standing in for an evdev node and opens
// its write end. O_RDWR does not wait for a reader, and closing the
// returned file makes the reader see EOF as if the keyboard was unplugged.
func fifoDevice(t *testing.T, name string) (string, *os.File) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, unix.Mkfifo(path, 0o600))
	w, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return path, w
}

func nextEvent(t *testing.T, src *Source) KeyEvent {
	t.Helper()
	select {
	case ev, ok := <-src.Events():
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no key event")
		return KeyEvent{}
	}
}

func TestOpenMissingDevices(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "event99")

	src, err := Open(Options{Devices: []string{missing}, Logger: logging.Nop()})
	require.Error(t, err)
	assert.Nil(t, src)
	assert.True(t, errors.Is(err, ErrDeviceUnavailable))
	assert.Contains(t, err.Error(), "'input' group")
	assert.Equal(t, 1, strings.Count(err.Error(), missing), err.Error())
}

func TestOpenSkipsUnreadableDevice(t *testing.T) {
	path, _ := fifoDevice(t, "event0")
	missing := filepath.Join(t.TempDir(), "event1")

	src, err := Open(Options{Devices: []string{missing, path}, Logger: logging.Nop()})
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, []string{path}, src.Devices())
}

func TestSourceDeviceLossReleasesHeldKeys(t *testing.T) {
	path, w := fifoDevice(t, "event0")

	src, err := Open(Options{Devices: []string{path}, Logger: logging.Nop()})
	require.NoError(t, err)
	defer src.Close()

	tv := unix.NsecToTimeval(time.Now().UnixNano())
	_, err = w.Write(encode(t,
		rawEvent{Time: tv, Type: evKey, Code: 57, Value: keyPressed},
		rawEvent{Time: tv, Type: 0x00},
	))
	require.NoError(t, err)

	down := nextEvent(t, src)
	assert.Equal(t, uint16(57), down.Code)
	assert.Equal(t, Down, down.Action)
	assert.Equal(t, path, down.Device)

	require.NoError(t, w.Close())

	up := nextEvent(t, src)
	assert.Equal(t, uint16(57), up.Code)
	assert.Equal(t, Up, up.Action)
	assert.Eventually(t, func() bool { return len(src.Devices()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSourceCloseEndsStream(t *testing.T) {
	path, _ := fifoDevice(t, "event0")

	src, err := Open(Options{Devices: []string{path}, Logger: logging.Nop()})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- src.Close() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a pending read")
	}

	select {
	case _, ok := <-src.Events():
		assert.False(t, ok, "event stream still open")
	case <-time.After(time.Second):
		t.Fatal("event stream not closed")
	}
	assert.Empty(t, src.Devices())
	assert.NoError(t, src.Close())
}
