package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"sync"
)

var (
	ErrBackendUnreachable = errors.New("backend unreachable")
	ErrInjectedFault      = errors.New("injected server fault")
	ErrConnClosed         = errors.New("connection closed")
)

// MemoryDriver serves in-process backends keyed by endpoint. Replies follow
// the SSDB conventions: "ok" for writes, "not_found" for missing keys and
// "client_error" for malformed commands.
type MemoryDriver struct {
	mu       sync.RWMutex
	log      *slog.Logger
	backends map[Endpoint]*MemoryBackend
}

func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{
		log:      slog.New(slog.DiscardHandler),
		backends: make(map[Endpoint]*MemoryBackend),
	}
}

func (d *MemoryDriver) WithLog(log *slog.Logger) *MemoryDriver {
	d.log = log.With(slog.String("driver", "mem"))
	return d
}

// Backend returns the backend at e, creating a reachable one if needed.
func (d *MemoryDriver) Backend(e Endpoint) *MemoryBackend {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.backends[e]
	if !ok {
		b = &MemoryBackend{endpoint: e, reachable: true, data: make(map[string]string)}
		d.backends[e] = b
	}
	return b
}

// AddTopology creates a backend for every endpoint of t.
func (d *MemoryDriver) AddTopology(t Topology) {
	for _, region := range t {
		for _, e := range region {
			d.Backend(e)
		}
	}
}

func (d *MemoryDriver) Dial(ctx context.Context, e Endpoint) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	b := d.backends[e]
	d.mu.RUnlock()
	if b == nil {
		return nil, fmt.Errorf("dial %s: %w", e, ErrBackendUnreachable)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if !b.reachable {
		d.log.Debug("dial refused", slog.String("endpoint", e.String()))
		return nil, fmt.Errorf("dial %s: %w", e, ErrBackendUnreachable)
	}
	d.log.Debug("dial", slog.String("endpoint", e.String()))
	return &memConn{b: b}, nil
}

// MemoryBackend is one in-process key-value instance.
type MemoryBackend struct {
	mu        sync.Mutex
	endpoint  Endpoint
	reachable bool

	failRequests  int
	failPipelines int

	data      map[string]string
	dials     int
	requests  []Command
	pipelines [][]Command
}

// SetReachable makes dials and calls on open connections fail while false.
func (b *MemoryBackend) SetReachable(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reachable = ok
}

// FailRequests makes the next n requests report a server fault.
func (b *MemoryBackend) FailRequests(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failRequests = n
}

// FailPipelines makes the next n pipelines fail.
func (b *MemoryBackend) FailPipelines(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failPipelines = n
}

func (b *MemoryBackend) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Requests returns the commands served through Request.
func (b *MemoryBackend) Requests() []Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.requests)
}

// Pipelines returns the batches accepted through Pipeline, in arrival order.
func (b *MemoryBackend) Pipelines() [][]Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.pipelines)
}

func (b *MemoryBackend) Value(key string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	return v, ok
}

// exec runs cmd against the data set. Callers hold b.mu.
func (b *MemoryBackend) exec(cmd Command) Reply {
	arity := func(n int) bool { return len(cmd) == n }
	switch cmd.Name() {
	case "set":
		if !arity(3) {
			return Failed("client_error", "wrong number of arguments")
		}
		b.data[cmd[1]] = cmd[2]
		return OK("ok")
	case "get":
		if !arity(2) {
			return Failed("client_error", "wrong number of arguments")
		}
		v, ok := b.data[cmd[1]]
		if !ok {
			return Failed("not_found")
		}
		return OK(v)
	case "del":
		if !arity(2) {
			return Failed("client_error", "wrong number of arguments")
		}
		delete(b.data, cmd[1])
		return OK("ok")
	case "exists":
		if !arity(2) {
			return Failed("client_error", "wrong number of arguments")
		}
		if _, ok := b.data[cmd[1]]; ok {
			return OK("1")
		}
		return OK("0")
	case "incr":
		if len(cmd) != 2 && len(cmd) != 3 {
			return Failed("client_error", "wrong number of arguments")
		}
		by := int64(1)
		if len(cmd) == 3 {
			n, err := strconv.ParseInt(cmd[2], 10, 64)
			if err != nil {
				return Failed("client_error", "increment is not an integer")
			}
			by = n
		}
		cur := int64(0)
		if v, ok := b.data[cmd[1]]; ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return Failed("error", "value is not an integer")
			}
			cur = n
		}
		cur += by
		b.data[cmd[1]] = strconv.FormatInt(cur, 10)
		return OK(b.data[cmd[1]])
	case "keys":
		keys := make([]string, 0, len(b.data))
		for k := range b.data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return OK(keys...)
	default:
		return Failed("client_error", "unknown command: "+cmd.Name())
	}
}

type memConn struct {
	b      *MemoryBackend
	closed bool
}

func (c *memConn) Request(ctx context.Context, cmd Command) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	if c.closed {
		return Reply{}, ErrConnClosed
	}
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.reachable {
		return Reply{}, ErrBackendUnreachable
	}
	if b.failRequests > 0 {
		b.failRequests--
		return Reply{}, ErrInjectedFault
	}
	b.requests = append(b.requests, slices.Clone(cmd))
	return b.exec(cmd), nil
}

func (c *memConn) Pipeline(ctx context.Context, cmds []Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed {
		return ErrConnClosed
	}
	b := c.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.reachable {
		return ErrBackendUnreachable
	}
	if b.failPipelines > 0 {
		b.failPipelines--
		return ErrInjectedFault
	}
	batch := make([]Command, len(cmds))
	for i, cmd := range cmds {
		batch[i] = slices.Clone(cmd)
		b.exec(cmd)
	}
	b.pipelines = append(b.pipelines, batch)
	return nil
}

func (c *memConn) Close() error {
	c.closed = true
	return nil
}

var (
	_ Driver = (*MemoryDriver)(nil)
	_ Conn   = (*memConn)(nil)
)
