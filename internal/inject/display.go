package inject

import (
	"context"
	"fmt"
	"strconv"
)

// DisplayStrategy types through the display server: wtype on Wayland,
// xdotool on X11.
type DisplayStrategy struct {
	runner   Runner
	tool     string
	keyDelay int
}

func NewDisplayStrategy(runner Runner, tool string, keyDelayMs int) *DisplayStrategy {
	return &DisplayStrategy{runner: runner, tool: tool, keyDelay: keyDelayMs}
}

func (d *DisplayStrategy) Method() Method { return MethodDisplay }

func (d *DisplayStrategy) Inject(ctx context.Context, text string) error {
	switch d.tool {
	case "wtype":
		args := []string{}
		if d.keyDelay > 0 {
			args = append(args, "-d", strconv.Itoa(d.keyDelay))
		}
		return d.runner.Run(ctx, "wtype", append(args, "--", text)...)
	case "xdotool":
		args := []string{"type", "--clearmodifiers"}
		if d.keyDelay > 0 {
			args = append(args, "--delay", strconv.Itoa(d.keyDelay))
		}
		return d.runner.Run(ctx, "xdotool", append(args, "--", text)...)
	default:
		return fmt.Errorf("%w: no display typing tool", ErrUnavailable)
	}
}

// DisplayTool picks the typing tool for the session. A legacy input_method
// of "wtype" or "xdotool" wins when that tool is installed.
func DisplayTool(env Environment, preference string) string {
	switch {
	case preference == "wtype" && env.HasWtype:
		return "wtype"
	case preference == "xdotool" && env.HasXdotool:
		return "xdotool"
	case env.Session == SessionWayland && env.HasWtype:
		return "wtype"
	case env.Session == SessionX11 && env.HasXdotool:
		return "xdotool"
	case env.HasXdotool && env.Session != SessionWayland:
		return "xdotool"
	}
	return ""
}
