package cluster

import (
	"context"
	"log/slog"
)

// PipelineGroup is the ordered run of commands of one dispatch call that
// target the same region.
type PipelineGroup struct {
	Region   int
	Commands []Command
}

// GroupResult reports what happened to one PipelineGroup.
type GroupResult struct {
	Region   int
	Commands int
	// Endpoint is the instance that accepted the batch, if any.
	Endpoint Endpoint
	Attempts int
	Err      error
}

func (g GroupResult) OK() bool { return g.Err == nil }

// Partition groups cmds by the region of their shard key. Groups appear in
// the order their region is first seen and keep the relative order of their
// commands. Commands without a shard key are hashed on hint; if hint is empty
// they are returned in skipped.
func (r *Router) Partition(cmds []Command, hint string) (groups []PipelineGroup, skipped []Command) {
	index := make(map[int]int)
	for _, cmd := range cmds {
		key, ok := cmd.Key()
		if !ok {
			if hint == "" {
				skipped = append(skipped, cmd)
				continue
			}
			key = hint
		}
		id := r.ShardOf(key)
		pos, seen := index[id]
		if !seen {
			pos = len(groups)
			index[id] = pos
			groups = append(groups, PipelineGroup{Region: id})
		}
		groups[pos].Commands = append(groups[pos].Commands, cmd)
	}
	return groups, skipped
}

// Dispatch partitions cmds and sends every group as one pipelined batch to
// its region. Groups succeed or fail independently; a failed batch is resent
// whole to the next available instance of the same region.
func (r *Router) Dispatch(ctx context.Context, cmds []Command) []GroupResult {
	groups, skipped := r.Partition(cmds, "")
	if len(skipped) > 0 {
		r.log.Warn("pipeline commands without shard key skipped", slog.Int("count", len(skipped)))
	}
	results := make([]GroupResult, 0, len(groups))
	for _, group := range groups {
		results = append(results, r.DispatchGroup(ctx, group))
	}
	return results
}

// Pipeline is the fire-and-forget form of Dispatch. hint is the shard key
// used for commands that carry none. Failures are only logged.
func (r *Router) Pipeline(ctx context.Context, hint string, cmds []Command) {
	groups, skipped := r.Partition(cmds, hint)
	if len(skipped) > 0 {
		r.log.Warn("pipeline commands without shard key skipped", slog.Int("count", len(skipped)))
	}
	for _, group := range groups {
		res := r.DispatchGroup(ctx, group)
		if res.Err != nil {
			r.log.Warn(
				"pipeline group failed",
				slog.Int("region", res.Region),
				slog.Int("commands", res.Commands),
				slog.Any("error", res.Err),
			)
		}
	}
}

// DispatchGroup sends one group. It touches no region other than group.Region.
func (r *Router) DispatchGroup(ctx context.Context, group PipelineGroup) (res GroupResult) {
	res = GroupResult{Region: group.Region, Commands: len(group.Commands)}
	defer func() {
		r.metrics.PipelineGroup(res.Region, res.Commands, res.Err == nil)
	}()

	g, err := r.region(group.Region)
	if err != nil {
		res.Err = err
		return res
	}

	var cause error
	faulted := make([]bool, len(g.instances))
	for attempt := 0; attempt < len(g.instances); attempt++ {
		inst, idx, err := r.getInstance(ctx, g, faulted)
		if inst == nil {
			if isContextErr(ctx, err) {
				res.Err = err
				return res
			}
			if err != nil {
				cause = err
			}
			break
		}

		res.Attempts++
		if err := inst.conn.Pipeline(ctx, group.Commands); err != nil {
			if isContextErr(ctx, err) {
				res.Err = err
				return res
			}
			cause = &ServerError{Endpoint: inst.endpoint, Err: err}
			r.log.Warn(
				"pipeline failed, failing over",
				slog.Int("region", g.id),
				slog.String("instance", inst.endpoint.String()),
				slog.Int("commands", len(group.Commands)),
				slog.Any("error", err),
			)
			faulted[idx] = true
			r.disconnect(g, inst, ReasonPipelineError)
			continue
		}

		res.Endpoint = inst.endpoint
		r.log.Debug(
			"pipeline dispatched",
			slog.Int("region", g.id),
			slog.String("instance", inst.endpoint.String()),
			slog.Int("commands", len(group.Commands)),
		)
		return res
	}

	res.Err = &ConnectionError{Region: g.id, Err: noInstanceCause(cause)}
	return res
}
