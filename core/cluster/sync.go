package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// SyncRouter serializes access to a Router per region. Calls touching
// different regions run in parallel; calls on the same region are executed
// one at a time. The wrapped Router must not be used directly afterwards.
type SyncRouter struct {
	r     *Router
	locks []sync.Mutex
	// closeMu guards Close against in-flight calls.
	closeMu sync.RWMutex
}

func NewSyncRouter(r *Router) *SyncRouter {
	return &SyncRouter{r: r, locks: make([]sync.Mutex, r.NumRegions())}
}

func (s *SyncRouter) NumRegions() int { return s.r.NumRegions() }

func (s *SyncRouter) ShardOf(key string) int { return s.r.ShardOf(key) }

func (s *SyncRouter) withRegion(id int, fn func() error) error {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if id < 0 || id >= len(s.locks) {
		return fmt.Errorf("cluster: region %d (num regions %d): %w", id, len(s.locks), ErrRegionOutOfRange)
	}
	s.locks[id].Lock()
	defer s.locks[id].Unlock()
	return fn()
}

func (s *SyncRouter) InstanceOf(ctx context.Context, id int) (ep Endpoint, err error) {
	lockErr := s.withRegion(id, func() error {
		ep, err = s.r.InstanceOf(ctx, id)
		return nil
	})
	if lockErr != nil {
		return Endpoint{}, lockErr
	}
	return ep, err
}

func (s *SyncRouter) Request(ctx context.Context, cmd Command) (Reply, error) {
	key, ok := cmd.Key()
	if !ok {
		return Reply{}, fmt.Errorf("cluster: %q: %w", cmd.Name(), ErrMissingShardKey)
	}
	return s.RequestAt(ctx, s.r.ShardOf(key), cmd)
}

func (s *SyncRouter) RequestKey(ctx context.Context, key string, cmd Command) (Reply, error) {
	return s.RequestAt(ctx, s.r.ShardOf(key), cmd)
}

func (s *SyncRouter) RequestAt(ctx context.Context, id int, cmd Command) (reply Reply, err error) {
	lockErr := s.withRegion(id, func() error {
		reply, err = s.r.RequestAt(ctx, id, cmd)
		return nil
	})
	if lockErr != nil {
		return Reply{}, lockErr
	}
	return reply, err
}

// Dispatch sends all groups concurrently, one goroutine per region. Results
// keep the first-seen region order of Router.Dispatch.
func (s *SyncRouter) Dispatch(ctx context.Context, cmds []Command) []GroupResult {
	groups, skipped := s.r.Partition(cmds, "")
	if len(skipped) > 0 {
		s.r.log.Warn("pipeline commands without shard key skipped", slog.Int("count", len(skipped)))
	}
	results := make([]GroupResult, len(groups))

	var eg errgroup.Group
	for i, group := range groups {
		eg.Go(func() error {
			err := s.withRegion(group.Region, func() error {
				results[i] = s.r.DispatchGroup(ctx, group)
				return nil
			})
			if err != nil {
				results[i] = GroupResult{Region: group.Region, Commands: len(group.Commands), Err: err}
			}
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

// Status takes every region lock for a consistent snapshot.
func (s *SyncRouter) Status() []RegionStatus {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	for i := range s.locks {
		s.locks[i].Lock()
	}
	defer func() {
		for i := range s.locks {
			s.locks[i].Unlock()
		}
	}()
	return s.r.Status()
}

func (s *SyncRouter) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.r.Close()
}
