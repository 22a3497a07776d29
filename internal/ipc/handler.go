package ipc

import (
	"bytes"
	"context"
	"io"
	"strings"
)

// Handler answers control requests.
type Handler interface {
	Handle(ctx context.Context, req *Request) *Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) *Response

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) *Response {
	return f(ctx, req)
}

// Controller is the part of the daemon the control socket can drive.
type Controller interface {
	Status() Status
	// Toggle starts a session when idle and stops the recording one
	// otherwise.
	Toggle() error
	// Cancel aborts the open session, discarding its audio.
	Cancel() error
	WriteMetrics(w io.Writer) error
}

// DaemonHandler dispatches requests to a Controller.
type DaemonHandler struct {
	ctl Controller
}

// NewDaemonHandler returns a handler for ctl.
func NewDaemonHandler(ctl Controller) *DaemonHandler {
	return &DaemonHandler{ctl: ctl}
}

// Handle implements Handler.
func (h *DaemonHandler) Handle(ctx context.Context, req *Request) *Response {
	switch strings.ToLower(strings.TrimSpace(req.Command)) {
	case CmdPing:
		return &Response{OK: true, Message: "pong"}

	case CmdStatus:
		st := h.ctl.Status()
		return &Response{OK: true, Status: &st}

	case CmdToggle:
		if err := h.ctl.Toggle(); err != nil {
			return errorResponse("%v", err)
		}
		return &Response{OK: true, Message: "toggled"}

	case CmdCancel:
		if err := h.ctl.Cancel(); err != nil {
			return errorResponse("%v", err)
		}
		return &Response{OK: true, Message: "cancelled"}

	case CmdMetrics:
		var buf bytes.Buffer
		if err := h.ctl.WriteMetrics(&buf); err != nil {
			return errorResponse("metrics: %v", err)
		}
		return &Response{OK: true, Metrics: buf.String()}

	case "":
		return errorResponse("missing command")

	default:
		return errorResponse("unknown command %q", req.Command)
	}
}
