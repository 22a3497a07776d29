//go:build linux

package input

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// rawEvent matches struct input_event.
type rawEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

var rawEventSize = int(unsafe.Sizeof(rawEvent{}))

const (
	keyReleased = 0
	keyPressed  = 1
	keyRepeat   = 2
)

// decodeEvents converts a buffer of input_event records into key events.
// Auto-repeat and non-key records are dropped.
func decodeEvents(buf []byte, device string) []KeyEvent {
	var out []KeyEvent
	r := bytes.NewReader(buf)
	for r.Len() >= rawEventSize {
		var ev rawEvent
		if err := binary.Read(r, binary.NativeEndian, &ev); err != nil {
			break
		}
		if ev.Type != evKey {
			continue
		}
		var action Action
		switch ev.Value {
		case keyPressed:
			action = Down
		case keyReleased:
			action = Up
		default:
			continue
		}
		sec, nsec := ev.Time.Unix()
		out = append(out, KeyEvent{
			Code:   ev.Code,
			Action: action,
			Time:   time.Unix(sec, nsec),
			Device: device,
		})
	}
	return out
}

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | typ<<8 | nr
}

const iocRead = 2

func evIOCGName(size int) uintptr   { return ioc(iocRead, 'E', 0x06, uintptr(size)) }
func evIOCGBit(ev, size int) uintptr { return ioc(iocRead, 'E', 0x20+uintptr(ev), uintptr(size)) }

func ioctlBytes(fd uintptr, req uintptr, buf []byte) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return errno
	}
	return nil
}

// deviceName asks the kernel for the device name.
func deviceName(f *os.File) string {
	buf := make([]byte, 256)
	if err := ioctlBytes(f.Fd(), evIOCGName(len(buf)), buf); err != nil {
		return ""
	}
	return strings.TrimRight(string(buf), "\x00")
}

// isKeyboard checks the EV_KEY and EV_REP capability bits of an open device.
func isKeyboard(f *os.File) bool {
	buf := make([]byte, 8)
	if err := ioctlBytes(f.Fd(), evIOCGBit(0, len(buf)), buf); err != nil {
		return false
	}
	bits := binary.NativeEndian.Uint64(buf)
	return bits&(1<<evKey) != 0 && bits&(1<<evRep) != 0
}

// openDevice opens an evdev node read-only.
func openDevice(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDONLY, 0)
}

// ListDevices returns every evdev node from /proc/bus/input/devices along
// with whether the current user can read it.
func ListDevices() ([]Device, error) {
	f, err := os.Open(procDevices)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", procDevices, err)
	}
	defer f.Close()

	devices, err := parseProcDevices(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", procDevices, err)
	}
	for i := range devices {
		if df, err := os.OpenFile(devices[i].Path, os.O_RDONLY, 0); err == nil {
			devices[i].Readable = true
			df.Close()
		}
	}
	return devices, nil
}
