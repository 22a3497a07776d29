package inject

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dictd/internal/hotkey"
	"dictd/internal/logging"
)

func TestKernelStrategy(t *testing.T) {
	r := &fakeRunner{}
	k := NewKernelStrategy(r, fakeHelper{}, 0)

	require.NoError(t, k.Inject(context.Background(), "hello world "))
	require.Len(t, r.calls, 1)
	assert.Equal(t, "ydotool type -- hello world ", r.calls[0].String())
}

func TestKernelStrategyHelperDown(t *testing.T) {
	r := &fakeRunner{}
	k := NewKernelStrategy(r, fakeHelper{err: ErrUnavailable}, 0)

	err := k.Inject(context.Background(), "x")
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Empty(t, r.calls, "ydotool must not run without its daemon")
}

func TestDisplayStrategy(t *testing.T) {
	r := &fakeRunner{}
	require.NoError(t, NewDisplayStrategy(r, "wtype", 0).Inject(context.Background(), "-n hi"))
	require.NoError(t, NewDisplayStrategy(r, "xdotool", 12).Inject(context.Background(), "hi"))

	assert.Equal(t, []string{"--", "-n hi"}, r.calls[0].args)
	assert.Equal(t, []string{"type", "--clearmodifiers", "--delay", "12", "--", "hi"}, r.calls[1].args)

	err := NewDisplayStrategy(r, "", 0).Inject(context.Background(), "hi")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestClipboardStrategy(t *testing.T) {
	clip := &fakeClipboard{content: "previous"}
	paster := &fakePaster{}
	s := NewClipboardStrategy(clip, paster, true, time.Millisecond, logging.Nop())

	require.NoError(t, s.Inject(context.Background(), "dictated"))
	assert.Equal(t, 1, paster.pastes)
	assert.Equal(t, []string{"dictated", "previous"}, clip.writes)
	assert.Equal(t, "previous", clip.content)
}

func TestClipboardStrategyNoRestore(t *testing.T) {
	clip := &fakeClipboard{content: "previous"}
	s := NewClipboardStrategy(clip, &fakePaster{}, false, 0, logging.Nop())

	require.NoError(t, s.Inject(context.Background(), "dictated"))
	assert.Equal(t, "dictated", clip.content)
}

func TestClipboardStrategyPasteFails(t *testing.T) {
	clip := &fakeClipboard{content: "previous"}
	s := NewClipboardStrategy(clip, &fakePaster{err: errBoom}, true, 0, logging.Nop())

	err := s.Inject(context.Background(), "dictated")
	assert.True(t, errors.Is(err, errBoom))
	assert.Equal(t, "dictated", clip.content, "text stays available for a manual paste")
}

func TestCommandPasterArgs(t *testing.T) {
	chord := hotkey.MustParseChord("ctrl+shift+v")
	tests := []struct {
		tool string
		want []string
	}{
		{"ydotool", []string{"key", "29:1", "42:1", "47:1", "47:0", "42:0", "29:0"}},
		{"wtype", []string{"-M", "ctrl", "-M", "shift", "-k", "v", "-m", "shift", "-m", "ctrl"}},
		{"xdotool", []string{"key", "--clearmodifiers", "ctrl+shift+v"}},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			r := &fakeRunner{}
			require.NoError(t, NewCommandPaster(r, tt.tool, chord).Paste(context.Background()))
			require.Len(t, r.calls, 1)
			assert.Equal(t, tt.tool, r.calls[0].name)
			assert.Equal(t, tt.want, r.calls[0].args)
		})
	}
}

func TestFallbackPaster(t *testing.T) {
	first := &fakePaster{err: errBoom}
	second := &fakePaster{}
	require.NoError(t, FallbackPaster{first, second}.Paste(context.Background()))
	assert.Equal(t, 1, first.pastes)
	assert.Equal(t, 1, second.pastes)

	err := FallbackPaster{}.Paste(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestHelperSocketPaths(t *testing.T) {
	env := map[string]string{"YDOTOOL_SOCKET": "/custom.sock", "XDG_RUNTIME_DIR": "/run/user/1000"}
	got := helperSocketPaths(func(k string) string { return env[k] })
	assert.Equal(t, []string{"/custom.sock", "/run/user/1000/.ydotool_socket", "/tmp/.ydotool_socket"}, got)
}

func TestHelperCheck(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "ydotool.sock")
	h := &Helper{paths: []string{sock}, log: logging.Nop()}

	err := h.Check()
	assert.True(t, errors.Is(err, ErrUnavailable))

	l, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: sock, Net: "unixgram"})
	require.NoError(t, err)
	defer l.Close()

	require.NoError(t, h.Check())
	assert.Equal(t, sock, h.Socket())
}

func TestBuild(t *testing.T) {
	env := Environment{Session: SessionWayland, HasYdotool: true, HasWtype: true, HasClipboard: true}
	chain, err := Build(Options{
		InputMethod: "auto",
		Runner:      &fakeRunner{},
		Clipboard:   &fakeClipboard{},
		NoUinput:    true,
	}, env, logging.Nop())
	require.NoError(t, err)
	assert.Equal(t, []Method{MethodKernel, MethodDisplay, MethodClipboard}, chain.Methods())

	_, err = Build(Options{InputMethod: "auto", PasteKeys: "ctrl"}, env, nil)
	assert.Error(t, err)
}

func TestBuildClipboardOnlyPastesWithTools(t *testing.T) {
	env := Environment{Session: SessionX11, HasXdotool: true, HasClipboard: true}
	r := &fakeRunner{}
	clip := &fakeClipboard{}

	chain, err := Build(Options{InputMethod: "clipboard", Runner: r, Clipboard: clip, NoUinput: true}, env, nil)
	require.NoError(t, err)
	assert.Equal(t, []Method{MethodClipboard, MethodDisplay}, chain.Methods())

	report, err := chain.Inject(context.Background(), "hi ")
	require.NoError(t, err)
	assert.Equal(t, MethodClipboard, report.Delivered)
	assert.Equal(t, "hi ", clip.content)
	assert.Equal(t, []string{"xdotool"}, r.names())
	assert.Equal(t, []string{"key", "--clearmodifiers", "ctrl+v"}, r.calls[0].args)
}
