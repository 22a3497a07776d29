package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrNotRunning is returned when no daemon is listening on the socket.
var ErrNotRunning = errors.New("dictd is not running")

// ClientConfig configures a control client.
type ClientConfig struct {
	SocketPath string
	Timeout    time.Duration
}

// Client talks to the daemon's control socket. It is safe for concurrent
// use; requests on one connection are serialized.
type Client struct {
	cfg ClientConfig

	mu   sync.Mutex
	conn net.Conn
	enc  *Encoder
	dec  *Decoder
}

// NewClient returns a client for the socket at cfg.SocketPath.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{cfg: cfg}
}

func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: c.cfg.Timeout}
	conn, err := d.DialContext(ctx, "unix", c.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	c.conn = conn
	c.enc = NewEncoder(conn)
	c.dec = NewDecoder(conn)
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.enc, c.dec = nil, nil, nil
	return err
}

// Do sends command and waits for the response. A response with OK false is
// returned as an error.
func (c *Client) Do(ctx context.Context, command string) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	if err := c.enc.Encode(Request{Command: command}); err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("send %s: %w", command, err)
	}

	var resp Response
	if err := c.dec.Decode(&resp); err != nil {
		c.closeLocked()
		return nil, fmt.Errorf("read %s response: %w", command, err)
	}
	if !resp.OK {
		return &resp, fmt.Errorf("%s: %s", command, resp.Error)
	}
	return &resp, nil
}

// Ping checks that the daemon answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Do(ctx, CmdPing)
	return err
}

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	resp, err := c.Do(ctx, CmdStatus)
	if err != nil {
		return nil, err
	}
	if resp.Status == nil {
		return nil, errors.New("status: empty response")
	}
	return resp.Status, nil
}

// Toggle starts or stops a recording.
func (c *Client) Toggle(ctx context.Context) error {
	_, err := c.Do(ctx, CmdToggle)
	return err
}

// Cancel aborts the open session.
func (c *Client) Cancel(ctx context.Context) error {
	_, err := c.Do(ctx, CmdCancel)
	return err
}

// Metrics returns the Prometheus text exposition.
func (c *Client) Metrics(ctx context.Context) (string, error) {
	resp, err := c.Do(ctx, CmdMetrics)
	if err != nil {
		return "", err
	}
	return resp.Metrics, nil
}
