package cluster

import (
	"context"
)

// Driver opens connections to backend instances. Wire framing is entirely
// the driver's concern.
type Driver interface {
	// Dial connects to the instance. A non-nil error leaves the instance
	// disconnected.
	Dial(ctx context.Context, endpoint Endpoint) (Conn, error)
}

// Conn is a live handle to one backend instance.
type Conn interface {
	// Request sends one command. A non-nil error is a server-level fault and
	// makes the router drop the connection. Application failures are
	// reported through Reply.Status instead.
	Request(ctx context.Context, cmd Command) (Reply, error)

	// Pipeline sends all commands in one batch. A non-nil error means the
	// batch must be considered not delivered.
	Pipeline(ctx context.Context, cmds []Command) error

	Close() error
}

// DriverFunc adapts a function to Driver.
type DriverFunc func(ctx context.Context, endpoint Endpoint) (Conn, error)

func (f DriverFunc) Dial(ctx context.Context, endpoint Endpoint) (Conn, error) {
	return f(ctx, endpoint)
}
