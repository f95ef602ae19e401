package cluster

import (
	"context"
	"log/slog"
	"time"
)

// instance is one backend endpoint of a region. It is connected exactly when
// conn is non-nil.
type instance struct {
	endpoint Endpoint
	conn     Conn
	// lastAttempt is the time of the last dial; zero means never dialled.
	lastAttempt time.Time
}

func (i *instance) connected() bool { return i.conn != nil }

// region holds the instances of one shard in priority order.
type region struct {
	id        int
	instances []instance
}

func (g *region) connectedCount() (n int) {
	for i := range g.instances {
		if g.instances[i].connected() {
			n++
		}
	}
	return n
}

// canDial reports whether the backoff window for inst has elapsed.
func (r *Router) canDial(inst *instance, now time.Time) bool {
	if inst.lastAttempt.IsZero() {
		return true
	}
	return now.Sub(inst.lastAttempt) >= r.backoff
}

// dial attempts to connect inst and records the attempt time regardless of
// the outcome. Any previous handle is released first.
func (r *Router) dial(ctx context.Context, g *region, inst *instance) error {
	if inst.conn != nil {
		r.release(inst)
	}
	inst.lastAttempt = r.clock()

	conn, err := r.driver.Dial(ctx, inst.endpoint)
	r.metrics.ConnectAttempt(inst.endpoint.String(), err == nil)
	if err != nil {
		r.log.Warn(
			"instance connect failed",
			slog.Int("region", g.id),
			slog.String("instance", inst.endpoint.String()),
			slog.Any("error", err),
		)
		return err
	}

	inst.conn = conn
	r.log.Info("instance connected", slog.Int("region", g.id), slog.String("instance", inst.endpoint.String()))
	r.metrics.ConnectedInstances(g.id, g.connectedCount())
	return nil
}

// disconnect drops the handle of inst. lastAttempt is left untouched.
func (r *Router) disconnect(g *region, inst *instance, reason string) {
	if inst.conn == nil {
		return
	}
	r.release(inst)
	r.log.Info(
		"instance disconnected",
		slog.Int("region", g.id),
		slog.String("instance", inst.endpoint.String()),
		slog.String("reason", reason),
	)
	r.metrics.InstanceDisconnected(inst.endpoint.String(), reason)
	r.metrics.ConnectedInstances(g.id, g.connectedCount())
}

// demoteAfter disconnects every connected instance ranked below position idx.
func (r *Router) demoteAfter(g *region, idx int) {
	for j := idx + 1; j < len(g.instances); j++ {
		sib := &g.instances[j]
		if !sib.connected() {
			continue
		}
		r.disconnect(g, sib, ReasonDemoted)
		r.metrics.InstanceDemoted(g.id, sib.endpoint.String())
	}
}

func (r *Router) release(inst *instance) {
	if err := inst.conn.Close(); err != nil {
		r.log.Debug("close connection", slog.String("instance", inst.endpoint.String()), slog.Any("error", err))
	}
	inst.conn = nil
}
