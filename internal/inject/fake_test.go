package inject

import (
	"context"
	"errors"
	"strings"
	"sync"
)

type call struct {
	name string
	args []string
}

func (c call) String() string { return c.name + " " + strings.Join(c.args, " ") }

// fakeRunner records commands and fails the ones listed in fail.
type fakeRunner struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{name: name, args: args})
	if err, ok := r.fail[name]; ok {
		return err
	}
	return nil
}

func (r *fakeRunner) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.name
	}
	return out
}

type fakeHelper struct{ err error }

func (h fakeHelper) Check() error   { return h.err }
func (h fakeHelper) Socket() string { return "/run/user/1000/.ydotool_socket" }

type fakeClipboard struct {
	content  string
	writes   []string
	writeErr error
}

func (c *fakeClipboard) ReadAll() (string, error) { return c.content, nil }
func (c *fakeClipboard) WriteAll(s string) error {
	if c.writeErr != nil {
		return c.writeErr
	}
	c.content = s
	c.writes = append(c.writes, s)
	return nil
}

type fakePaster struct {
	pastes int
	err    error
}

func (p *fakePaster) Paste(context.Context) error {
	p.pastes++
	return p.err
}

// scripted is a strategy with a fixed result.
type scripted struct {
	method Method
	err    error
	calls  *[]Method
}

func (s scripted) Method() Method { return s.method }
func (s scripted) Inject(ctx context.Context, text string) error {
	*s.calls = append(*s.calls, s.method)
	return s.err
}

var errBoom = errors.New("boom")
