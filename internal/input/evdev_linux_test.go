//go:build linux

package input

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func encode(t *testing.T, evs ...rawEvent) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, ev := range evs {
		require.NoError(t, binary.Write(&buf, binary.NativeEndian, ev))
	}
	return buf.Bytes()
}

func TestDecodeEvents(t *testing.T) {
	tv := unix.NsecToTimeval(1_700_000_000_000_000_000)
	buf := encode(t,
		rawEvent{Time: tv, Type: 0x04, Code: 4, Value: 30}, // EV_MSC scan code
		rawEvent{Time: tv, Type: evKey, Code: 29, Value: keyPressed},
		rawEvent{Time: tv, Type: evKey, Code: 29, Value: keyRepeat},
		rawEvent{Time: tv, Type: 0x00, Code: 0, Value: 0}, // SYN_REPORT
		rawEvent{Time: tv, Type: evKey, Code: 29, Value: keyReleased},
	)

	evs := decodeEvents(buf, "/dev/input/event3")
	require.Len(t, evs, 2)
	assert.Equal(t, KeyEvent{Code: 29, Action: Down, Time: evs[0].Time, Device: "/dev/input/event3"}, evs[0])
	assert.Equal(t, Up, evs[1].Action)
	assert.Equal(t, int64(1_700_000_000), evs[0].Time.Unix())
}

func TestDecodeEventsPartialRecord(t *testing.T) {
	buf := encode(t, rawEvent{Type: evKey, Code: 57, Value: keyPressed})
	evs := decodeEvents(append(buf, 1, 2, 3), "kbd")
	assert.Len(t, evs, 1)
}

func TestIoctlNumbers(t *testing.T) {
	// Values from linux/input.h on a 64-bit build.
	assert.Equal(t, uintptr(0x81004506), evIOCGName(256))
	assert.Equal(t, uintptr(0x80084520), evIOCGBit(0, 8))
}
