package inject

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/micmonay/keybd_event"

	"dictd/internal/hotkey"
	"dictd/internal/logging"
)

// Clipboard reads and writes the system clipboard.
type Clipboard interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

// SystemClipboard uses wl-copy, xclip or xsel through atotto/clipboard.
type SystemClipboard struct{}

func (SystemClipboard) ReadAll() (string, error) { return clipboard.ReadAll() }
func (SystemClipboard) WriteAll(s string) error  { return clipboard.WriteAll(s) }

// Paster sends the paste key chord to the focused window.
type Paster interface {
	Paste(ctx context.Context) error
}

// ClipboardStrategy writes the text to the clipboard and pastes it. The
// previous clipboard is restored afterwards when restore is set.
type ClipboardStrategy struct {
	clip         Clipboard
	paster       Paster
	restore      bool
	restoreDelay time.Duration
	log          *logging.Logger
}

func NewClipboardStrategy(clip Clipboard, paster Paster, restore bool, restoreDelay time.Duration, log *logging.Logger) *ClipboardStrategy {
	return &ClipboardStrategy{clip: clip, paster: paster, restore: restore, restoreDelay: restoreDelay, log: log}
}

func (c *ClipboardStrategy) Method() Method { return MethodClipboard }

func (c *ClipboardStrategy) Inject(ctx context.Context, text string) error {
	var previous string
	havePrevious := false
	if c.restore {
		if p, err := c.clip.ReadAll(); err == nil {
			previous, havePrevious = p, true
		}
	}

	if err := c.clip.WriteAll(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	if err := c.paster.Paste(ctx); err != nil {
		// The text stays on the clipboard so the user can paste by hand.
		return fmt.Errorf("paste: %w", err)
	}

	if havePrevious {
		select {
		case <-time.After(c.restoreDelay):
		case <-ctx.Done():
		}
		if err := c.clip.WriteAll(previous); err != nil {
			c.log.Warn("cannot restore clipboard", "error", err)
		}
	}
	return nil
}

// UinputPaster presses the paste chord on a virtual uinput keyboard.
type UinputPaster struct {
	chord hotkey.Chord

	once    sync.Once
	kb      keybd_event.KeyBonding
	err     error
	created time.Time
}

// uinputSettle is how long a new uinput device needs before compositors
// accept its events.
const uinputSettle = 2 * time.Second

func NewUinputPaster(chord hotkey.Chord) *UinputPaster {
	return &UinputPaster{chord: chord}
}

// Warm creates the virtual keyboard ahead of the first paste.
func (u *UinputPaster) Warm() error {
	u.once.Do(func() {
		u.kb, u.err = keybd_event.NewKeyBonding()
		u.created = time.Now()
	})
	return u.err
}

func (u *UinputPaster) Paste(ctx context.Context) error {
	if err := u.Warm(); err != nil {
		return fmt.Errorf("%w: uinput: %v", ErrUnavailable, err)
	}
	if wait := uinputSettle - time.Since(u.created); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	u.kb.Clear()
	u.kb.HasCTRL(u.chord.Mods&hotkey.ModCtrl != 0)
	u.kb.HasALT(u.chord.Mods&hotkey.ModAlt != 0)
	u.kb.HasSHIFT(u.chord.Mods&hotkey.ModShift != 0)
	u.kb.HasSuper(u.chord.Mods&hotkey.ModSuper != 0)
	// evdev codes double as keybd_event's VK_ values on Linux.
	u.kb.SetKeys(int(u.chord.Key))
	return u.kb.Launching()
}

// CommandPaster sends the paste chord with an external tool.
type CommandPaster struct {
	runner Runner
	tool   string
	chord  hotkey.Chord
}

func NewCommandPaster(runner Runner, tool string, chord hotkey.Chord) *CommandPaster {
	return &CommandPaster{runner: runner, tool: tool, chord: chord}
}

var modifierTools = []struct {
	mod     hotkey.Modifier
	code    uint16
	wtype   string
	xdotool string
}{
	{hotkey.ModCtrl, hotkey.KeyLeftCtrl, "ctrl", "ctrl"},
	{hotkey.ModAlt, hotkey.KeyLeftAlt, "alt", "alt"},
	{hotkey.ModShift, hotkey.KeyLeftShift, "shift", "shift"},
	{hotkey.ModSuper, hotkey.KeyLeftMeta, "logo", "super"},
}

func (c *CommandPaster) Paste(ctx context.Context) error {
	return c.runner.Run(ctx, c.tool, c.args()...)
}

func (c *CommandPaster) args() []string {
	key := c.chord.String()
	key = key[strings.LastIndex(key, "+")+1:]

	switch c.tool {
	case "ydotool":
		args := []string{"key"}
		var mods []uint16
		for _, m := range modifierTools {
			if c.chord.Mods&m.mod != 0 {
				mods = append(mods, m.code)
				args = append(args, strconv.Itoa(int(m.code))+":1")
			}
		}
		args = append(args, strconv.Itoa(int(c.chord.Key))+":1", strconv.Itoa(int(c.chord.Key))+":0")
		for i := len(mods) - 1; i >= 0; i-- {
			args = append(args, strconv.Itoa(int(mods[i]))+":0")
		}
		return args
	case "wtype":
		var args []string
		for _, m := range modifierTools {
			if c.chord.Mods&m.mod != 0 {
				args = append(args, "-M", m.wtype)
			}
		}
		args = append(args, "-k", key)
		for i := len(modifierTools) - 1; i >= 0; i-- {
			if c.chord.Mods&modifierTools[i].mod != 0 {
				args = append(args, "-m", modifierTools[i].wtype)
			}
		}
		return args
	default:
		combo := ""
		for _, m := range modifierTools {
			if c.chord.Mods&m.mod != 0 {
				combo += m.xdotool + "+"
			}
		}
		return []string{"key", "--clearmodifiers", combo + key}
	}
}

// FallbackPaster tries each paster in turn.
type FallbackPaster []Paster

func (f FallbackPaster) Paste(ctx context.Context) error {
	var errs []error
	for _, p := range f {
		err := p.Paste(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return fmt.Errorf("%w: no paste method", ErrUnavailable)
	}
	return errors.Join(errs...)
}
