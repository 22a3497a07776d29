package ipc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu      sync.Mutex
	toggles int
	cancels int
	err     error
}

func (f *fakeController) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Status{
		PID:      os.Getpid(),
		State:    "idle",
		Mode:     "push-to-talk",
		Chord:    "<ctrl>+<alt>+space",
		Methods:  []string{"kernel-injection", "clipboard"},
		Counters: map[string]uint64{"sessions_started": uint64(f.toggles)},
	}
}

func (f *fakeController) Toggle() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles++
	return f.err
}

func (f *fakeController) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return f.err
}

func (f *fakeController) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.toggles, f.cancels
}

func (f *fakeController) WriteMetrics(w io.Writer) error {
	_, err := fmt.Fprintln(w, "dictd_sessions_started_total 0")
	return err
}

// socketPath keeps the path short; sun_path is limited to 108 bytes.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "dictd-ipc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func startServer(t *testing.T, ctl Controller) *Server {
	t.Helper()
	cfg := DefaultServerConfig("")
	cfg.SocketPath = socketPath(t)
	srv := NewServer(cfg, NewDaemonHandler(ctl), nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func TestServerCommands(t *testing.T) {
	ctl := &fakeController{}
	srv := startServer(t, ctl)
	client := NewClient(ClientConfig{SocketPath: srv.SocketPath()})
	defer client.Close()
	ctx := context.Background()

	require.NoError(t, client.Ping(ctx))

	require.NoError(t, client.Toggle(ctx))
	require.NoError(t, client.Cancel(ctx))
	toggles, cancels := ctl.counts()
	assert.Equal(t, 1, toggles)
	assert.Equal(t, 1, cancels)

	st, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "idle", st.State)
	assert.Equal(t, os.Getpid(), st.PID)
	assert.Equal(t, []string{"kernel-injection", "clipboard"}, st.Methods)
	assert.Equal(t, uint64(1), st.Counters["sessions_started"])

	m, err := client.Metrics(ctx)
	require.NoError(t, err)
	assert.Contains(t, m, "dictd_sessions_started_total")
}

func TestServerReportsControllerErrors(t *testing.T) {
	ctl := &fakeController{err: errors.New("no session to cancel")}
	srv := startServer(t, ctl)
	client := NewClient(ClientConfig{SocketPath: srv.SocketPath()})
	defer client.Close()

	err := client.Cancel(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no session to cancel")

	// the connection survives a failed command
	require.NoError(t, client.Ping(context.Background()))
}

func TestServerUnknownAndMalformed(t *testing.T) {
	srv := startServer(t, &fakeController{})

	conn, err := net.Dial("unix", srv.SocketPath())
	require.NoError(t, err)
	defer conn.Close()

	dec := NewDecoder(conn)
	_, err = io.WriteString(conn, "{\"command\":\"launch\"}\nnot json\n{\"command\":\"ping\"}\n")
	require.NoError(t, err)

	var resp Response
	require.NoError(t, dec.Decode(&resp))
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, `unknown command "launch"`)

	resp = Response{}
	require.NoError(t, dec.Decode(&resp))
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "bad request")

	resp = Response{}
	require.NoError(t, dec.Decode(&resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "pong", resp.Message)
}

func TestServerSocketLifecycle(t *testing.T) {
	cfg := DefaultServerConfig("")
	cfg.SocketPath = socketPath(t)
	srv := NewServer(cfg, NewDaemonHandler(&fakeController{}), nil)
	require.NoError(t, srv.Start())

	info, err := os.Stat(cfg.SocketPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second := NewServer(cfg, NewDaemonHandler(&fakeController{}), nil)
	assert.ErrorIs(t, second.Start(), ErrAlreadyServing)

	require.NoError(t, srv.Stop())
	_, err = os.Stat(cfg.SocketPath)
	assert.True(t, os.IsNotExist(err))

	// stop is idempotent
	require.NoError(t, srv.Stop())
}

func TestServerReplacesStaleSocket(t *testing.T) {
	path := socketPath(t)
	l, err := net.Listen("unix", path)
	require.NoError(t, err)
	// closing a unix listener unlinks its file; recreate a dead socket file
	l.(*net.UnixListener).SetUnlinkOnClose(false)
	l.Close()

	cfg := DefaultServerConfig("")
	cfg.SocketPath = path
	srv := NewServer(cfg, NewDaemonHandler(&fakeController{}), nil)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	require.NoError(t, NewClient(ClientConfig{SocketPath: path}).Ping(context.Background()))
}

func TestCleanupSocketRefusesRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-socket")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	assert.Error(t, CleanupSocket(path))
	assert.NoError(t, CleanupSocket(filepath.Join(t.TempDir(), "missing")))
}

func TestClientNotRunning(t *testing.T) {
	client := NewClient(ClientConfig{SocketPath: socketPath(t)})
	_, err := client.Status(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestDecoderLineTooLong(t *testing.T) {
	line := `{"command":"` + strings.Repeat("a", MaxLineSize) + `"}` + "\n"
	var req Request
	assert.ErrorIs(t, NewDecoder(strings.NewReader(line)).Decode(&req), ErrLineTooLong)
}

func TestEncoderDecoder(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Encode(Request{Command: CmdStatus}))
	require.NoError(t, enc.Encode(Request{Command: CmdToggle}))
	assert.Equal(t, "{\"command\":\"status\"}\n{\"command\":\"toggle\"}\n", buf.String())

	dec := NewDecoder(&buf)
	var a, b, c Request
	require.NoError(t, dec.Decode(&a))
	require.NoError(t, dec.Decode(&b))
	assert.Equal(t, CmdStatus, a.Command)
	assert.Equal(t, CmdToggle, b.Command)
	assert.ErrorIs(t, dec.Decode(&c), io.EOF)

	assert.Error(t, NewDecoder(strings.NewReader(`{"command":"st`)).Decode(&c))
}
