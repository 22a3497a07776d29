package feedback

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"dictd/internal/logging"
)

const (
	notifyDest   = "org.freedesktop.Notifications"
	notifyPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod = notifyDest + ".Notify"
	appName      = "dictd"
)

// busCaller sends a method call without waiting for the reply.
type busCaller interface {
	Go(method string, flags dbus.Flags, ch chan *dbus.Call, args ...interface{}) *dbus.Call
}

// DesktopNotifier posts notifications for failures over the session bus.
type DesktopNotifier struct {
	log *logging.Logger

	mu      sync.Mutex
	conn    *dbus.Conn
	obj     busCaller
	timeout int32
}

// NewDesktopNotifier connects lazily; a missing session bus only costs a
// debug log line per event.
func NewDesktopNotifier(log *logging.Logger) *DesktopNotifier {
	return &DesktopNotifier{log: log, timeout: 8000}
}

func (d *DesktopNotifier) Notify(ev Event) {
	summary, body, ok := message(ev)
	if !ok {
		return
	}

	obj, err := d.object()
	if err != nil {
		d.log.Debug("desktop notification unavailable", "error", err)
		return
	}
	call := obj.Go(notifyMethod, dbus.FlagNoReplyExpected, nil,
		appName, uint32(0), "audio-input-microphone", summary, body,
		[]string{}, map[string]dbus.Variant{}, d.timeout)
	if call != nil && call.Err != nil {
		d.log.Debug("desktop notification failed", "error", call.Err)
	}
}

func (d *DesktopNotifier) object() (busCaller, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.obj != nil {
		return d.obj, nil
	}
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	d.conn = conn
	d.obj = conn.Object(notifyDest, notifyPath)
	return d.obj, nil
}

// message builds the notification for events worth interrupting the user.
func message(ev Event) (summary, body string, ok bool) {
	if ev.Kind != Failed {
		return "", "", false
	}
	switch ev.Error {
	case "injection":
		body = "Could not type the text into the focused window."
		if ev.Text != "" {
			body += "\n\n" + ev.Text
		}
		return "Dictation not delivered", body, true
	case "transcription":
		return "Transcription failed", ev.Detail, true
	case "audio":
		return "Microphone error", ev.Detail, true
	}
	return "Dictation failed", ev.Detail, true
}
