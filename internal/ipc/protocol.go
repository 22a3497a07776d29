// Package ipc is the control socket between the running daemon and the
// dictd CLI.
//
// The protocol is one JSON object per line in each direction:
//
//	-> {"command":"status"}
//	<- {"ok":true,"status":{...}}
//
// A connection may carry any number of requests.
package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Command names understood by the daemon.
const (
	CmdPing    = "ping"
	CmdStatus  = "status"
	CmdToggle  = "toggle"
	CmdCancel  = "cancel"
	CmdMetrics = "metrics"
)

// MaxLineSize bounds a single request or response line.
const MaxLineSize = 1 << 20

// ErrLineTooLong is returned when a peer sends more than MaxLineSize bytes
// without a newline.
var ErrLineTooLong = errors.New("ipc: line too long")

// Request is a client command.
type Request struct {
	Command string `json:"command"`
}

// Response answers one Request.
type Response struct {
	OK      bool    `json:"ok"`
	Error   string  `json:"error,omitempty"`
	Message string  `json:"message,omitempty"`
	Status  *Status `json:"status,omitempty"`
	Metrics string  `json:"metrics,omitempty"`
}

// Status describes the daemon as reported by the status command.
type Status struct {
	PID           int               `json:"pid"`
	Version       string            `json:"version"`
	State         string            `json:"state"`
	SessionID     string            `json:"session_id,omitempty"`
	Mode          string            `json:"mode"`
	Chord         string            `json:"chord"`
	Methods       []string          `json:"methods"`
	Transcriber   string            `json:"transcriber"`
	Devices       []string          `json:"devices,omitempty"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Counters      map[string]uint64 `json:"counters,omitempty"`
}

// errorResponse builds a failed response.
func errorResponse(format string, args ...any) *Response {
	return &Response{OK: false, Error: fmt.Sprintf(format, args...)}
}

// Encoder writes newline-delimited JSON values.
type Encoder struct {
	w io.Writer
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes v followed by a newline in a single Write call.
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ipc: encode: %w", err)
	}
	data = append(data, '\n')
	_, err = e.w.Write(data)
	return err
}

// Decoder reads newline-delimited JSON values.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 4096)}
}

// Decode reads one line and unmarshals it into v. It returns io.EOF when the
// stream ends cleanly between lines.
func (d *Decoder) Decode(v any) error {
	var line []byte
	for {
		chunk, isPrefix, err := d.r.ReadLine()
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		line = append(line, chunk...)
		if len(line) > MaxLineSize {
			return ErrLineTooLong
		}
		if !isPrefix {
			break
		}
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("ipc: decode: %w", err)
	}
	return nil
}
