package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// DefaultBackoff is the minimum time between two dials of the same instance.
const DefaultBackoff = 5 * time.Minute

type RouterOptions struct {
	// Name identifies the router in logs. Defaults to "router-<random>".
	Name     string
	Topology Topology
	Driver   Driver
	// Backoff is the reconnect window; zero means DefaultBackoff.
	Backoff time.Duration
	// Clock returns the current time. Defaults to time.Now.
	Clock   func() time.Time
	Log     *slog.Logger
	Metrics RouterMetrics
}

// Router resolves keys to regions and regions to live instances.
//
// A Router is not safe for concurrent use. Wrap it in a SyncRouter when
// several goroutines share it.
type Router struct {
	name    string
	log     *slog.Logger
	driver  Driver
	backoff time.Duration
	clock   func() time.Time
	metrics RouterMetrics

	regions []region
	closed  bool
}

// Connect builds the region table from opts.Topology and dials the first
// instance of every region. Dial failures are logged and left for the
// router to retry lazily; only invalid options make Connect fail.
func Connect(ctx context.Context, opts RouterOptions) (*Router, error) {
	if opts.Driver == nil {
		return nil, fmt.Errorf("cluster: %w", ErrNoDriver)
	}
	if err := opts.Topology.Validate(); err != nil {
		return nil, fmt.Errorf("cluster: %w", err)
	}

	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("router-%s", gonanoid.Must(6))
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	m := opts.Metrics
	if m == nil {
		m = NopRouterMetrics()
	}

	r := &Router{
		name:    name,
		log:     log.With(slog.String("router", name)),
		driver:  opts.Driver,
		backoff: backoff,
		clock:   clock,
		metrics: m,
		regions: make([]region, len(opts.Topology)),
	}

	for i, endpoints := range opts.Topology {
		g := &r.regions[i]
		g.id = i
		g.instances = make([]instance, len(endpoints))
		for j, e := range endpoints {
			g.instances[j] = instance{endpoint: e}
		}
		_ = r.dial(ctx, g, &g.instances[0])
	}

	r.log.Info(
		"router configured",
		slog.Int("regions", len(r.regions)),
		slog.Duration("backoff", r.backoff),
	)
	return r, nil
}

func (r *Router) Name() string { return r.name }

func (r *Router) NumRegions() int { return len(r.regions) }

// ShardOf returns the region that owns key.
func (r *Router) ShardOf(key string) int {
	return SlotString(key, len(r.regions))
}

// InstanceOf resolves the active instance of a region, reconnecting and
// failing over like a request would.
func (r *Router) InstanceOf(ctx context.Context, id int) (Endpoint, error) {
	g, err := r.region(id)
	if err != nil {
		return Endpoint{}, err
	}
	inst, _, err := r.getInstance(ctx, g, nil)
	if inst == nil {
		if isContextErr(ctx, err) {
			return Endpoint{}, err
		}
		return Endpoint{}, &ConnectionError{Region: id, Err: noInstanceCause(err)}
	}
	return inst.endpoint, nil
}

// Request sends cmd to the region owning cmd[1].
func (r *Router) Request(ctx context.Context, cmd Command) (Reply, error) {
	key, ok := cmd.Key()
	if !ok {
		return Reply{}, fmt.Errorf("cluster: %q: %w", cmd.Name(), ErrMissingShardKey)
	}
	return r.request(ctx, r.ShardOf(key), cmd)
}

// RequestKey sends cmd to the region owning key.
func (r *Router) RequestKey(ctx context.Context, key string, cmd Command) (Reply, error) {
	return r.request(ctx, r.ShardOf(key), cmd)
}

// RequestAt sends cmd to region id without hashing.
func (r *Router) RequestAt(ctx context.Context, id int, cmd Command) (Reply, error) {
	return r.request(ctx, id, cmd)
}

func (r *Router) region(id int) (*region, error) {
	if r.closed {
		return nil, ErrRouterClosed
	}
	if id < 0 || id >= len(r.regions) {
		return nil, fmt.Errorf("cluster: region %d (num regions %d): %w", id, len(r.regions), ErrRegionOutOfRange)
	}
	return &r.regions[id], nil
}

// getInstance scans g in priority order. An already connected instance is
// returned as is. An instance that had to be (re)connected becomes the
// authoritative one and every connected instance ranked below it is demoted.
// Instances marked in faulted already failed during the current call and are
// not dialled again by it. On exhaustion it returns nil and the last dial
// error, if any.
func (r *Router) getInstance(ctx context.Context, g *region, faulted []bool) (*instance, int, error) {
	now := r.clock()
	var lastErr error
	for i := range g.instances {
		inst := &g.instances[i]
		if inst.connected() {
			return inst, i, nil
		}
		if faulted != nil && faulted[i] {
			continue
		}
		if !r.canDial(inst, now) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, -1, err
		}
		if err := r.dial(ctx, g, inst); err != nil {
			lastErr = err
			continue
		}
		r.demoteAfter(g, i)
		return inst, i, nil
	}
	return nil, -1, lastErr
}

// request is the single retry primitive behind every request entry point.
// A server fault disconnects the instance and the call moves on to the next
// candidate; at most one attempt per instance of the region is made.
func (r *Router) request(ctx context.Context, id int, cmd Command) (Reply, error) {
	g, err := r.region(id)
	if err != nil {
		return Reply{}, err
	}
	defer r.metrics.RequestDuration(id).ObserveDuration()

	var cause error
	faulted := make([]bool, len(g.instances))
	for attempt := 0; attempt < len(g.instances); attempt++ {
		inst, idx, err := r.getInstance(ctx, g, faulted)
		if inst == nil {
			if isContextErr(ctx, err) {
				return Reply{}, err
			}
			if err != nil {
				cause = err
			}
			break
		}

		reply, err := inst.conn.Request(ctx, cmd)
		if err != nil {
			if isContextErr(ctx, err) {
				return Reply{}, err
			}
			cause = &ServerError{Endpoint: inst.endpoint, Err: err}
			r.log.Warn(
				"server error, failing over",
				slog.Int("region", id),
				slog.String("instance", inst.endpoint.String()),
				slog.String("command", cmd.Name()),
				slog.Any("error", err),
			)
			faulted[idx] = true
			r.disconnect(g, inst, ReasonServerError)
			continue
		}

		if reply.IsOK() {
			r.metrics.RequestCompleted(id, OutcomeOK)
		} else {
			r.metrics.RequestCompleted(id, OutcomeApplicationError)
		}
		return reply, nil
	}

	r.metrics.RequestCompleted(id, OutcomeConnectionError)
	return Reply{}, &ConnectionError{Region: id, Err: noInstanceCause(cause)}
}

func noInstanceCause(err error) error {
	if err == nil {
		return ErrNoInstance
	}
	return err
}

func isContextErr(ctx context.Context, err error) bool {
	if ctx.Err() == nil || err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

type InstanceStatus struct {
	Endpoint    Endpoint  `json:"endpoint"`
	Connected   bool      `json:"connected"`
	LastAttempt time.Time `json:"last_attempt"`
}

type RegionStatus struct {
	Region    int              `json:"region"`
	Instances []InstanceStatus `json:"instances"`
}

// Active returns the connected instance of the region, if any.
func (s RegionStatus) Active() (Endpoint, bool) {
	for _, i := range s.Instances {
		if i.Connected {
			return i.Endpoint, true
		}
	}
	return Endpoint{}, false
}

// Status reports the connection state of every instance without touching it.
func (r *Router) Status() []RegionStatus {
	out := make([]RegionStatus, len(r.regions))
	for i := range r.regions {
		g := &r.regions[i]
		rs := RegionStatus{Region: g.id, Instances: make([]InstanceStatus, len(g.instances))}
		for j := range g.instances {
			inst := &g.instances[j]
			rs.Instances[j] = InstanceStatus{
				Endpoint:    inst.endpoint,
				Connected:   inst.connected(),
				LastAttempt: inst.lastAttempt,
			}
		}
		out[i] = rs
	}
	return out
}

// Close releases every open connection. The router is unusable afterwards.
func (r *Router) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	for i := range r.regions {
		g := &r.regions[i]
		for j := range g.instances {
			r.disconnect(g, &g.instances[j], ReasonClosed)
		}
	}
	r.log.Debug("closed")
	return nil
}
