package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrStalled is reported when an upstream body delivers no bytes within the
// stall timeout.
var ErrStalled = errors.New("upstream stalled")

// watchdogBody cancels the request when a single Read blocks longer than
// timeout. Time spent between reads, while the client is being written to,
// is not counted.
type watchdogBody struct {
	ctx     context.Context
	body    io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	cancel  context.CancelCauseFunc
}

func newWatchdogBody(ctx context.Context, body io.ReadCloser, timeout time.Duration, cancel context.CancelCauseFunc) *watchdogBody {
	w := &watchdogBody{
		ctx:     ctx,
		body:    body,
		timeout: timeout,
		cancel:  cancel,
	}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, func() { cancel(ErrStalled) })
		w.timer.Stop()
	}
	return w
}

func (w *watchdogBody) Read(p []byte) (int, error) {
	if w.timer != nil {
		w.timer.Reset(w.timeout)
	}
	n, err := w.body.Read(p)
	if w.timer != nil {
		w.timer.Stop()
	}
	if err != nil && errors.Is(context.Cause(w.ctx), ErrStalled) {
		return n, fmt.Errorf("%w: no data for %s", ErrStalled, w.timeout)
	}
	return n, err
}

func (w *watchdogBody) Close() error {
	if w.timer != nil {
		w.timer.Stop()
	}
	err := w.body.Close()
	w.cancel(nil)
	return err
}
