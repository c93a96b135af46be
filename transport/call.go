package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ErrClosed is the cause of every call failed because the worker channel went away.
var ErrClosed = errors.New("worker channel closed")

// ErrRequestTooLarge fails a call whose encoded request exceeds protocol.MaxBodyLen.
// Nothing is sent and the channel stays usable.
var ErrRequestTooLarge = errors.New("request too large")

// RemoteError is a failure reported by the worker. Its message is exactly the description
// the worker sent, e.g. "Error: Inner error message".
type RemoteError struct {
	Member      string
	Description string
}

func (e *RemoteError) Error() string {
	return e.Description
}

// Call is one outstanding member invocation. It settles exactly once, either with the
// worker's response or with a local failure (send error, channel closed).
type Call struct {
	ID     uint32
	Member string

	once    sync.Once
	done    chan struct{}
	payload json.RawMessage
	err     error
}

func newCall(member string) *Call {
	return &Call{Member: member, done: make(chan struct{})}
}

// failedCall returns a call that is already settled with err.
func failedCall(member string, err error) *Call {
	c := newCall(member)
	c.settle(nil, err)
	return c
}

func (c *Call) settle(payload json.RawMessage, err error) {
	c.once.Do(func() {
		c.payload = payload
		c.err = err
		close(c.done)
	})
}

// Done is closed once the call has settled.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Err returns the call's failure once it has settled, nil before that or on success.
func (c *Call) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the call settles or ctx is done. Abandoning a wait does not cancel
// the call; a later Wait still observes its result.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.payload, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Decode waits for the call and unmarshals its result into v. A nil v discards the result.
func (c *Call) Decode(ctx context.Context, v any) error {
	payload, err := c.Wait(ctx)
	if err != nil {
		return err
	}
	if v == nil || len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, v)
}
