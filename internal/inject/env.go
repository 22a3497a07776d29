package inject

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// SessionType is the windowing environment.
type SessionType string

const (
	SessionWayland SessionType = "wayland"
	SessionX11     SessionType = "x11"
	SessionOther   SessionType = "other"
)

// Environment is what ProbeEnvironment found at startup.
type Environment struct {
	Session    SessionType
	HasYdotool bool
	HasWtype   bool
	HasXdotool bool
	// HasClipboard is set when a clipboard helper (wl-copy, xclip or xsel)
	// is installed.
	HasClipboard bool
}

// ProbeEnvironment inspects the session variables and installed tools.
func ProbeEnvironment() Environment {
	return inspectEnvironment(os.Getenv, func(name string) bool {
		_, err := exec.LookPath(name)
		return err == nil
	})
}

func inspectEnvironment(getenv func(string) string, have func(string) bool) Environment {
	env := Environment{Session: SessionOther}
	switch {
	case strings.EqualFold(getenv("XDG_SESSION_TYPE"), "wayland") || getenv("WAYLAND_DISPLAY") != "":
		env.Session = SessionWayland
	case strings.EqualFold(getenv("XDG_SESSION_TYPE"), "x11") || getenv("DISPLAY") != "":
		env.Session = SessionX11
	}

	env.HasYdotool = have("ydotool")
	env.HasWtype = have("wtype")
	env.HasXdotool = have("xdotool")
	if env.Session == SessionWayland {
		env.HasClipboard = have("wl-copy")
	} else {
		env.HasClipboard = have("xclip") || have("xsel")
	}
	return env
}

// DetectEnvironment maps an environment to the automatic strategy order.
// It is pure; the daemon calls it once at startup.
func DetectEnvironment(env Environment) []Method {
	var out []Method
	add := func(m Method, ok bool) {
		if ok {
			out = append(out, m)
		}
	}

	switch env.Session {
	case SessionWayland:
		add(MethodKernel, env.HasYdotool)
		add(MethodDisplay, env.HasWtype)
	case SessionX11:
		add(MethodDisplay, env.HasXdotool)
		add(MethodKernel, env.HasYdotool)
	default:
		add(MethodKernel, env.HasYdotool)
	}
	add(MethodClipboard, env.HasClipboard)
	return out
}

// ParseMethod accepts method names and the tool names older configs used.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "kernel-injection", "kernel", "ydotool":
		return MethodKernel, nil
	case "display-injection", "display", "wtype", "xdotool":
		return MethodDisplay, nil
	case "clipboard", "paste":
		return MethodClipboard, nil
	}
	return "", fmt.Errorf("unknown injection method %q", s)
}

// ResolveOrder combines the input_method preference, an optional explicit
// order and the detected order. "auto" uses explicit or detected as is; a
// named method goes first with the rest of the detected order behind it.
func ResolveOrder(preference string, explicit, detected []Method) ([]Method, error) {
	base := detected
	if len(explicit) > 0 {
		base = explicit
	}

	pref := strings.ToLower(strings.TrimSpace(preference))
	if pref == "" || pref == "auto" {
		return dedupe(base), nil
	}

	m, err := ParseMethod(pref)
	if err != nil {
		return nil, err
	}
	return dedupe(append([]Method{m}, base...)), nil
}

func dedupe(in []Method) []Method {
	seen := make(map[Method]bool, len(in))
	out := make([]Method, 0, len(in))
	for _, m := range in {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}
