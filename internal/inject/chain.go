// Package inject delivers text to the focused application through an
// ordered list of strategies, falling back on failure.
package inject

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"dictd/internal/logging"
)

// Method names an injection strategy.
type Method string

const (
	MethodKernel    Method = "kernel-injection"
	MethodDisplay   Method = "display-injection"
	MethodClipboard Method = "clipboard"
)

var (
	// ErrInjectionFailed is returned when every strategy failed.
	ErrInjectionFailed = errors.New("injection failed")
	// ErrUnavailable marks a strategy that cannot run right now.
	ErrUnavailable = errors.New("injection method unavailable")
)

// Outcome of one attempt.
type Outcome uint8

const (
	Success Outcome = iota + 1
	Failure
)

func (o Outcome) String() string {
	if o == Success {
		return "success"
	}
	return "failure"
}

// Attempt records one strategy invocation.
type Attempt struct {
	Method   Method
	Outcome  Outcome
	Reason   string
	Duration time.Duration
}

// Report is the ordered list of attempts for one piece of text.
type Report struct {
	Attempts []Attempt
	// Delivered is the method that succeeded, empty on failure.
	Delivered Method
}

// Strategy delivers text one way.
type Strategy interface {
	Method() Method
	Inject(ctx context.Context, text string) error
}

// Chain tries strategies in order. Inject calls are serialized since the
// synthetic input helpers are shared system resources.
type Chain struct {
	mu         sync.Mutex
	strategies []Strategy
	log        *logging.Logger
}

// NewChain returns a chain over strategies in the given order.
func NewChain(strategies []Strategy, log *logging.Logger) *Chain {
	if log == nil {
		log = logging.Nop()
	}
	return &Chain{strategies: strategies, log: log.WithComponent("inject")}
}

// Methods returns the configured order.
func (c *Chain) Methods() []Method {
	out := make([]Method, len(c.strategies))
	for i, s := range c.strategies {
		out[i] = s.Method()
	}
	return out
}

// Inject delivers text, stopping at the first strategy that succeeds. The
// report lists every attempt; the error wraps ErrInjectionFailed when none
// succeeded.
func (c *Chain) Inject(ctx context.Context, text string) (Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		report Report
		errs   []error
	)
	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		start := time.Now()
		err := s.Inject(ctx, text)
		a := Attempt{Method: s.Method(), Duration: time.Since(start)}
		if err == nil {
			a.Outcome = Success
			report.Attempts = append(report.Attempts, a)
			report.Delivered = a.Method
			c.log.Debug("text delivered", "method", string(a.Method), "duration", a.Duration)
			return report, nil
		}

		a.Outcome = Failure
		a.Reason = err.Error()
		report.Attempts = append(report.Attempts, a)
		errs = append(errs, fmt.Errorf("%s: %w", a.Method, err))
		c.log.Warn("injection attempt failed", "method", string(a.Method), "error", err)
	}

	if len(c.strategies) == 0 {
		errs = append(errs, errors.New("no injection methods available"))
	}
	return report, fmt.Errorf("%w: %w", ErrInjectionFailed, errors.Join(errs...))
}

// PrepareText normalizes text to NFC, trims surrounding whitespace and
// optionally appends one space so consecutive dictations do not run together.
func PrepareText(text string, trailingSpace bool) string {
	text = strings.TrimFunc(norm.NFC.String(text), unicode.IsSpace)
	if text == "" {
		return ""
	}
	if trailingSpace {
		text += " "
	}
	return text
}
