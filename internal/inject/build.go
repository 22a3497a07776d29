package inject

import (
	"fmt"
	"time"

	"dictd/internal/hotkey"
	"dictd/internal/logging"
)

// Options configures Build.
type Options struct {
	// InputMethod is the input_method option: auto or a method name.
	InputMethod string
	// Order overrides the detected order when non-empty.
	Order []Method
	// PasteKeys is the paste chord, "ctrl+v" by default.
	PasteKeys        string
	RestoreClipboard bool
	RestoreDelay     time.Duration
	KeyDelayMs       int
	CommandTimeout   time.Duration

	// NoUinput skips the virtual keyboard paster.
	NoUinput bool

	// Runner and Clipboard default to the real implementations.
	Runner    Runner
	Clipboard Clipboard
}

// Build resolves the strategy order for env and constructs the chain.
func Build(opts Options, env Environment, log *logging.Logger) (*Chain, error) {
	if log == nil {
		log = logging.Nop()
	}
	log = log.WithComponent("inject")

	order, err := ResolveOrder(opts.InputMethod, opts.Order, DetectEnvironment(env))
	if err != nil {
		return nil, err
	}

	runner := opts.Runner
	if runner == nil {
		timeout := opts.CommandTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		runner = ExecRunner{Timeout: timeout}
	}
	clip := opts.Clipboard
	if clip == nil {
		clip = SystemClipboard{}
	}
	pasteKeys := opts.PasteKeys
	if pasteKeys == "" {
		pasteKeys = "ctrl+v"
	}
	pasteChord, err := hotkey.ParseChord(pasteKeys)
	if err != nil {
		return nil, fmt.Errorf("paste_keys: %w", err)
	}
	restoreDelay := opts.RestoreDelay
	if restoreDelay <= 0 {
		restoreDelay = 300 * time.Millisecond
	}

	var strategies []Strategy
	for _, m := range order {
		switch m {
		case MethodKernel:
			strategies = append(strategies, NewKernelStrategy(runner, NewHelper(log), opts.KeyDelayMs))
		case MethodDisplay:
			tool := DisplayTool(env, opts.InputMethod)
			if tool == "" {
				log.Warn("display injection requested but no typing tool is installed")
				continue
			}
			strategies = append(strategies, NewDisplayStrategy(runner, tool, opts.KeyDelayMs))
		case MethodClipboard:
			strategies = append(strategies, NewClipboardStrategy(clip, pasters(env, runner, pasteChord, !opts.NoUinput), opts.RestoreClipboard, restoreDelay, log))
		}
	}

	chain := NewChain(strategies, log)
	log.Info("injection order resolved",
		"session", string(env.Session),
		"preference", opts.InputMethod,
		"methods", fmt.Sprint(chain.Methods()),
	)
	return chain, nil
}

// pasters orders the ways of sending the paste chord: uinput first, then
// whichever command-line tools exist.
func pasters(env Environment, runner Runner, chord hotkey.Chord, uinput bool) Paster {
	var out FallbackPaster
	if uinput {
		u := NewUinputPaster(chord)
		go u.Warm()
		out = append(out, u)
	}
	if env.HasYdotool {
		out = append(out, NewCommandPaster(runner, "ydotool", chord))
	}
	if env.Session == SessionWayland && env.HasWtype {
		out = append(out, NewCommandPaster(runner, "wtype", chord))
	}
	if env.Session != SessionWayland && env.HasXdotool {
		out = append(out, NewCommandPaster(runner, "xdotool", chord))
	}
	return out
}
